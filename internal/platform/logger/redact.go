package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const redacted = "[REDACTED]"

// Policy decides how logged values are masked. A zero Policy logs values
// untouched.
type Policy struct {
	Enabled bool
	// Redact lists key fragments whose values are replaced outright.
	Redact []string
	// Hash lists key fragments whose values are replaced by a salted digest,
	// so one user's lines can still be correlated.
	Hash []string
	Salt string
}

var defaultRedact = []string{"token", "authorization", "password", "secret", "cookie", "api_key", "apikey", "email"}

var defaultHash = []string{"user_id", "creator_id"}

// PolicyFromEnv enables redaction unless LOG_REDACTION_ENABLED is falsy.
// LOG_REDACT_KEYS appends comma separated fragments to the defaults.
func PolicyFromEnv() *Policy {
	p := &Policy{
		Enabled: true,
		Redact:  append([]string{}, defaultRedact...),
		Hash:    append([]string{}, defaultHash...),
		Salt:    strings.TrimSpace(os.Getenv("LOG_HASH_SALT")),
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
	case "0", "false", "no", "off":
		p.Enabled = false
	}
	for _, k := range strings.Split(os.Getenv("LOG_REDACT_KEYS"), ",") {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			p.Redact = append(p.Redact, k)
		}
	}
	return p
}

// Apply returns kv with sensitive values masked. Odd trailing keys pass through.
func (p *Policy) Apply(kv []interface{}) []interface{} {
	if p == nil || !p.Enabled || len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		name := stringify(kv[i])
		out = append(out, name, p.value(strings.ToLower(name), kv[i+1]))
	}
	return out
}

func (p *Policy) value(key string, val interface{}) interface{} {
	if key != "" {
		if p.shouldRedact(key) {
			return redacted
		}
		if containsAny(key, p.Hash) {
			return p.digest(val)
		}
	}
	switch v := val.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = p.value(strings.ToLower(strings.TrimSpace(k)), inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = p.value("", inner)
		}
		return out
	case string:
		if looksLikeJWT(v) {
			return redacted
		}
	}
	return val
}

// shouldRedact masks credentials but keeps billing counters such as
// estimated_tokens or tokens_so_far readable.
func (p *Policy) shouldRedact(key string) bool {
	if strings.HasSuffix(key, "_tokens") || strings.HasSuffix(key, "tokens_so_far") {
		return false
	}
	return containsAny(key, p.Redact)
}

func (p *Policy) digest(val interface{}) string {
	raw := stringify(val)
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(p.Salt + raw))
	return "hash:" + hex.EncodeToString(sum[:])[:12]
}

func containsAny(key string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}

func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
