package observability

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func TestSLOEvaluatorComputesBurnRate(t *testing.T) {
	t.Setenv("SLO_WINDOW_SECONDS", "86400")
	t.Setenv("SLO_GENERATION_SUCCESS_TARGET", "0.9")
	m := New()
	e := newSLOEvaluator(m, nil)

	for i := 0; i < 8; i++ {
		m.IncJobTransition("completed")
	}
	m.IncJobTransition("failed")
	m.IncJobTransition("failed")
	m.IncJobTransition("cancelled")
	m.ObserveAPI("GET", "/api/tokens/balance", "200", 10*time.Millisecond)
	m.ObserveAPI("GET", "/api/tokens/balance", "500", 2*time.Second)
	e.evaluate()

	assertGauge := func(slo string, want float64) {
		t.Helper()
		if got := m.sloCompliance.Value(slo, "1d"); math.Abs(got-want) > 1e-9 {
			t.Fatalf("%s compliance: got %v want %v", slo, got, want)
		}
	}
	assertGauge("generation_success", 0.8)
	assertGauge("api_availability", 0.5)
	assertGauge("billing_settlement", 1)
	if got := m.sloBurn.Value("generation_success", "1d"); math.Abs(got-2) > 1e-9 {
		t.Fatalf("burn rate: got %v want 2", got)
	}

	// A second pass with no new traffic keeps the window totals.
	e.evaluate()
	assertGauge("generation_success", 0.8)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	if !strings.Contains(buf.String(), `qg_slo_compliance{slo="generation_success",window="1d"} 0.8`) {
		t.Fatalf("compliance series missing:\n%s", buf.String())
	}
}

func TestSettlementCountsBillingErrors(t *testing.T) {
	m := New()
	m.ObserveLedgerOp("commit", "ok", 10, time.Millisecond)
	m.ObserveLedgerOp("commit", "replay", 0, time.Millisecond)
	m.ObserveLedgerOp("reserve", "ok", 10, time.Millisecond)
	m.IncBillingError("ledger_error")
	if got := m.settleTotal.Value(); got != 3 {
		t.Fatalf("settle total: got %v want 3", got)
	}
	if got := m.settleFailed.Value(); got != 1 {
		t.Fatalf("settle failed: got %v want 1", got)
	}
}

func TestFormatWindowLabel(t *testing.T) {
	cases := map[time.Duration]string{
		30 * 24 * time.Hour: "30d",
		36 * time.Hour:      "36h",
		90 * time.Minute:    "1h",
		45 * time.Minute:    "45m",
	}
	for in, want := range cases {
		if got := formatWindowLabel(in); got != want {
			t.Fatalf("formatWindowLabel(%v): got %q want %q", in, got, want)
		}
	}
}
