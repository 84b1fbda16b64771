package observability

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/yungbote/quizgen-backend/internal/platform/envutil"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

// OtelConfig names the process in exported spans. Exporter settings come
// from the standard OTEL_* variables, see loadExporterConfig.
type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string
}

type exporterConfig struct {
	enabled  bool
	kind     string // otlp, stdout or none
	endpoint string
	headers  map[string]string
	insecure bool
	ratio    float64
}

func loadExporterConfig() exporterConfig {
	c := exporterConfig{
		enabled:  envutil.Bool("OTEL_ENABLED", false),
		endpoint: envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		headers:  parseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
		insecure: envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ratio:    parseRatio(envutil.String("OTEL_SAMPLER_RATIO", ""), 0.1),
	}
	c.kind = strings.ToLower(envutil.String("OTEL_TRACES_EXPORTER", ""))
	if c.kind == "" {
		c.kind = "stdout"
		if c.endpoint != "" {
			c.kind = "otlp"
		}
	}
	return c
}

var (
	otelOnce     sync.Once
	otelShutdown = func(context.Context) error { return nil }
)

// InitOTel installs the global tracer provider and W3C propagators once per
// process. The returned func flushes pending spans; it is safe to call when
// tracing is off.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		ec := loadExporterConfig()
		if !ec.enabled {
			return
		}
		name := strings.TrimSpace(cfg.ServiceName)
		if name == "" {
			name = "quizgen"
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
			attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
		))
		if err != nil && log != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ec.ratio))),
			sdktrace.WithResource(res),
		}
		exp, err := newExporter(ctx, ec)
		switch {
		case err != nil:
			if log != nil {
				log.Warn("otel exporter init failed; spans are sampled but not exported", "exporter", ec.kind, "error", err)
			}
		case exp != nil:
			opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		otelShutdown = tp.Shutdown
		if log != nil {
			log.Info("otel tracing initialized", "service", name, "exporter", ec.kind, "endpoint", ec.endpoint, "ratio", ec.ratio)
		}
	})
	return otelShutdown
}

func newExporter(ctx context.Context, ec exporterConfig) (sdktrace.SpanExporter, error) {
	switch ec.kind {
	case "none":
		return nil, nil
	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(ec.endpoint)}
		if ec.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(ec.headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(ec.headers))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

// parseHeaders reads "k1=v1,k2=v2". Malformed pairs are skipped.
func parseHeaders(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseRatio(raw string, def float64) float64 {
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return clamp01(f)
}
