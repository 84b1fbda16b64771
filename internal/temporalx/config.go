package temporalx

import (
	"time"

	"github.com/yungbote/quizgen-backend/internal/platform/envutil"
	"github.com/yungbote/quizgen-backend/internal/platform/httpx"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	AutoRegisterNamespace bool
	RetentionDays         int

	DialTimeout time.Duration
	DialMaxWait time.Duration
	Backoff     time.Duration
	BackoffMax  time.Duration

	WorkerConcurrency int
	// EmbeddedWorker hosts the worker inside the API process.
	EmbeddedWorker bool
}

// Enabled reports whether a Temporal cluster is configured.
func (c Config) Enabled() bool { return c.Address != "" }

// RetryBackoff paces dial, namespace and worker start retries.
func (c Config) RetryBackoff() httpx.Backoff {
	b := httpx.Backoff{Initial: c.Backoff, Max: c.BackoffMax}
	if b.Initial <= 0 {
		b.Initial = 250 * time.Millisecond
	}
	return b
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "quizgen"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "quizgen"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		AutoRegisterNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		RetentionDays:         envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7),

		DialTimeout: envutil.Seconds("TEMPORAL_DIAL_TIMEOUT_SECONDS", 5*time.Second),
		DialMaxWait: envutil.Seconds("TEMPORAL_DIAL_MAX_WAIT_SECONDS", 60*time.Second),
		Backoff:     envutil.Millis("TEMPORAL_DIAL_BACKOFF_MS", 250*time.Millisecond),
		BackoffMax:  envutil.Millis("TEMPORAL_DIAL_BACKOFF_MAX_MS", 5*time.Second),

		WorkerConcurrency: envutil.Int("WORKER_CONCURRENCY", 4),
		EmbeddedWorker:    envutil.Bool("TEMPORAL_EMBEDDED_WORKER", false),
	}
}
