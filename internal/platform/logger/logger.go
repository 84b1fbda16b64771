package logger

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yungbote/quizgen-backend/internal/platform/ctxutil"
)

// Logger is a key/value logger over zap. Values are passed through the
// redaction policy before they reach the encoder. Its method set also
// satisfies the Temporal SDK log.Logger interface.
type Logger struct {
	sugar  *zap.SugaredLogger
	policy *Policy
}

// New builds a zap-backed logger. mode "prod"/"production" selects JSON output;
// anything else uses the console encoder. LOG_LEVEL overrides the debug default.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(levelFromEnv(zapcore.DebugLevel))
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: z.Sugar(), policy: PolicyFromEnv()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), policy: &Policy{}}
}

// NewWithCore is for tests that need to inspect output.
func NewWithCore(core zapcore.Core, policy *Policy) *Logger {
	if policy == nil {
		policy = &Policy{}
	}
	return &Logger{sugar: zap.New(core).Sugar(), policy: policy}
}

func levelFromEnv(def zapcore.Level) zapcore.Level {
	raw := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if raw == "" {
		return def
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
		return def
	}
	return lvl
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, l.policy.Apply(keysAndValues)...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, l.policy.Apply(keysAndValues)...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, l.policy.Apply(keysAndValues)...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, l.policy.Apply(keysAndValues)...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.sugar.Fatalw(msg, l.policy.Apply(keysAndValues)...)
}

func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(l.policy.Apply(keysAndValues)...), policy: l.policy}
}

// WithContext adds the request and trace ids carried by ctx, when present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	kv := make([]interface{}, 0, 6)
	if td := ctxutil.GetTraceData(ctx); td != nil {
		if td.RequestID != "" {
			kv = append(kv, "request_id", td.RequestID)
		}
		if td.TraceID != "" {
			kv = append(kv, "trace_id", td.TraceID)
		}
	}
	if rd := ctxutil.GetRequestData(ctx); rd != nil {
		kv = append(kv, "user_id", rd.UserID.String())
	}
	if len(kv) == 0 {
		return l
	}
	return l.With(kv...)
}
