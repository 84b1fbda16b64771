package observability

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("api-key=abc, x-team = qg ,broken,=nokey,empty=")
	if len(got) != 2 || got["api-key"] != "abc" || got["x-team"] != "qg" {
		t.Fatalf("unexpected headers: %v", got)
	}
	if parseHeaders("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestParseRatio(t *testing.T) {
	cases := map[string]float64{"": 0.1, "0.5": 0.5, "7": 1, "-1": 0, "abc": 0.1}
	for in, want := range cases {
		if got := parseRatio(in, 0.1); got != want {
			t.Fatalf("parseRatio(%q): got %v want %v", in, got, want)
		}
	}
}

func TestExporterKindDefaults(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if got := loadExporterConfig().kind; got != "stdout" {
		t.Fatalf("kind without endpoint: %q", got)
	}
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	if got := loadExporterConfig().kind; got != "otlp" {
		t.Fatalf("kind with endpoint: %q", got)
	}
	t.Setenv("OTEL_TRACES_EXPORTER", "none")
	exp, err := newExporter(context.Background(), loadExporterConfig())
	if err != nil || exp != nil {
		t.Fatalf("none exporter: exp=%v err=%v", exp, err)
	}
}
