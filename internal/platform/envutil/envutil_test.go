package envutil

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("ENVUTIL_INT", "42")
	t.Setenv("ENVUTIL_BAD", "x")
	t.Setenv("ENVUTIL_BOOL", "off")
	t.Setenv("ENVUTIL_SECS", "30")

	if got := Int("ENVUTIL_INT", 1); got != 42 {
		t.Fatalf("Int: got %d", got)
	}
	if got := Int("ENVUTIL_BAD", 7); got != 7 {
		t.Fatalf("Int fallback: got %d", got)
	}
	if got := Int64("ENVUTIL_MISSING", 9); got != 9 {
		t.Fatalf("Int64 fallback: got %d", got)
	}
	if Bool("ENVUTIL_BOOL", true) {
		t.Fatalf("Bool: expected false")
	}
	if !Bool("ENVUTIL_MISSING", true) {
		t.Fatalf("Bool fallback: expected true")
	}
	if got := Seconds("ENVUTIL_SECS", time.Minute); got != 30*time.Second {
		t.Fatalf("Seconds: got %s", got)
	}
	if got := String("ENVUTIL_MISSING", "def"); got != "def" {
		t.Fatalf("String fallback: got %q", got)
	}
}
