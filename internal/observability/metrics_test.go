package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.IncJobTransition("completed")
	m.ObserveLedgerOp("commit", "ok", 10, time.Millisecond)
	m.IncCappedCommit()
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("WritePrometheus on nil: %v", err)
	}
}

func TestWritePrometheus(t *testing.T) {
	m := New()
	m.ObserveLedgerOp("commit", "ok", 1000, 20*time.Millisecond)
	m.ObserveLedgerOp("commit", "ok", 400, 10*time.Millisecond)
	m.IncCappedCommit()
	m.IncBillingError("invalid_billing_state")

	if got := m.ledgerOps.Value("commit", "ok"); got != 2 {
		t.Fatalf("ledger ops: got %v want 2", got)
	}
	if got := m.ledgerTokens.Value("commit"); got != 1400 {
		t.Fatalf("ledger tokens: got %v want 1400", got)
	}

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE qg_ledger_operations_total counter\n",
		`qg_ledger_operations_total{op="commit",result="ok"} 2` + "\n",
		"qg_ledger_capped_commits_total 1\n",
		`qg_billing_errors_total{kind="invalid_billing_state"} 1` + "\n",
		`qg_ledger_operation_duration_seconds_bucket{op="commit",le="+Inf"} 2` + "\n",
		`qg_ledger_operation_duration_seconds_count{op="commit"} 2` + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestLabelStringEscapes(t *testing.T) {
	got := labelString([]string{"a", "b"}, []string{`x"y`})
	if got != `{a="x\"y",b="unknown"}` {
		t.Fatalf("labelString: %s", got)
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := NewHistogramVec("h", "test", []string{"op"}, []float64{1, 0.1})
	h.Observe(0.0625, "x")
	h.Observe(0.5, "x")
	h.Observe(3, "x")

	var buf bytes.Buffer
	if err := h.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	for _, want := range []string{
		`h_bucket{op="x",le="0.1"} 1` + "\n",
		`h_bucket{op="x",le="1"} 2` + "\n",
		`h_bucket{op="x",le="+Inf"} 3` + "\n",
		`h_sum{op="x"} 3.5625` + "\n",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("missing %q in:\n%s", want, buf.String())
		}
	}
	if h.Count("x") != 3 {
		t.Fatalf("count: %d", h.Count("x"))
	}
}

func TestCounterRejectsNegativeDelta(t *testing.T) {
	c := NewCounter("c", "test")
	c.Add(2)
	c.Add(-5)
	if c.Value() != 2 {
		t.Fatalf("counter went down: %v", c.Value())
	}
	g := NewGauge("g", "test")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Fatalf("gauge: %v", g.Value())
	}
}
