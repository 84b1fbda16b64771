package observability

import (
	"bufio"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// The types below render the Prometheus text exposition format. Every
// metric is a family of series keyed by its rendered label set; series are
// written in key order so consecutive scrapes diff cleanly.

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

var defaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

type series struct {
	value float64
	// histogram only
	counts []uint64
	sum    float64
	n      uint64
}

type family struct {
	name    string
	help    string
	kind    kind
	labels  []string
	buckets []float64

	mu     sync.Mutex
	series map[string]*series
}

func newFamily(name, help string, k kind, labels []string) *family {
	return &family{name: name, help: help, kind: k, labels: labels, series: map[string]*series{}}
}

// get returns the series for key, creating it on first use. Callers hold mu.
func (f *family) get(key string) *series {
	s, ok := f.series[key]
	if !ok {
		s = &series{}
		if f.kind == kindHistogram {
			s.counts = make([]uint64, len(f.buckets))
		}
		f.series[key] = s
	}
	return s
}

func (f *family) update(values []string, fn func(*series)) {
	key := labelString(f.labels, values)
	f.mu.Lock()
	fn(f.get(key))
	f.mu.Unlock()
}

func (f *family) read(values []string) float64 {
	key := labelString(f.labels, values)
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.series[key]; ok {
		return s.value
	}
	return 0
}

func (f *family) WritePrometheus(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("# HELP " + f.name + " " + f.help + "\n")
	bw.WriteString("# TYPE " + f.name + " " + string(f.kind) + "\n")

	f.mu.Lock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		s := f.series[k]
		if f.kind != kindHistogram {
			bw.WriteString(f.name + k + " " + formatValue(s.value) + "\n")
			continue
		}
		for i, b := range f.buckets {
			bw.WriteString(f.name + "_bucket" + withLe(k, formatValue(b)) + " " + strconv.FormatUint(s.counts[i], 10) + "\n")
		}
		bw.WriteString(f.name + "_bucket" + withLe(k, "+Inf") + " " + strconv.FormatUint(s.n, 10) + "\n")
		bw.WriteString(f.name + "_sum" + k + " " + formatValue(s.sum) + "\n")
		bw.WriteString(f.name + "_count" + k + " " + strconv.FormatUint(s.n, 10) + "\n")
	}
	f.mu.Unlock()
	return bw.Flush()
}

type CounterVec struct{ f *family }

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{f: newFamily(name, help, kindCounter, labels)}
}

func (c *CounterVec) Inc(values ...string) { c.Add(1, values...) }

// Add ignores negative deltas; counters only go up.
func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil || v < 0 {
		return
	}
	c.f.update(values, func(s *series) { s.value += v })
}

func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	return c.f.read(values)
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	return c.f.WritePrometheus(w)
}

// Counter is a CounterVec without labels.
type Counter struct{ vec *CounterVec }

func NewCounter(name, help string) *Counter {
	return &Counter{vec: NewCounterVec(name, help, nil)}
}

func (c *Counter) Inc() {
	if c != nil {
		c.vec.Inc()
	}
}

func (c *Counter) Add(v float64) {
	if c != nil {
		c.vec.Add(v)
	}
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	return c.vec.Value()
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	return c.vec.WritePrometheus(w)
}

type GaugeVec struct{ f *family }

func NewGaugeVec(name, help string, labels []string) *GaugeVec {
	return &GaugeVec{f: newFamily(name, help, kindGauge, labels)}
}

func (g *GaugeVec) Set(v float64, values ...string) {
	if g == nil {
		return
	}
	g.f.update(values, func(s *series) { s.value = v })
}

func (g *GaugeVec) Add(v float64, values ...string) {
	if g == nil {
		return
	}
	g.f.update(values, func(s *series) { s.value += v })
}

func (g *GaugeVec) Value(values ...string) float64 {
	if g == nil {
		return 0
	}
	return g.f.read(values)
}

func (g *GaugeVec) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	return g.f.WritePrometheus(w)
}

// Gauge is a GaugeVec without labels.
type Gauge struct{ vec *GaugeVec }

func NewGauge(name, help string) *Gauge {
	return &Gauge{vec: NewGaugeVec(name, help, nil)}
}

func (g *Gauge) Set(v float64) {
	if g != nil {
		g.vec.Set(v)
	}
}

func (g *Gauge) Inc() {
	if g != nil {
		g.vec.Add(1)
	}
}

func (g *Gauge) Dec() {
	if g != nil {
		g.vec.Add(-1)
	}
}

func (g *Gauge) Value() float64 {
	if g == nil {
		return 0
	}
	return g.vec.Value()
}

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	return g.vec.WritePrometheus(w)
}

// HistogramVec keeps cumulative bucket counts. Nil buckets use
// defaultBuckets.
type HistogramVec struct{ f *family }

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	f := newFamily(name, help, kindHistogram, labels)
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	f.buckets = slices.Sorted(slices.Values(buckets))
	return &HistogramVec{f: f}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil || math.IsNaN(v) {
		return
	}
	h.f.update(values, func(s *series) {
		s.sum += v
		s.n++
		for i, b := range h.f.buckets {
			if v <= b {
				s.counts[i]++
			}
		}
	})
}

// Count returns how many observations one label set has seen.
func (h *HistogramVec) Count(values ...string) uint64 {
	if h == nil {
		return 0
	}
	key := labelString(h.f.labels, values)
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if s, ok := h.f.series[key]; ok {
		return s.n
	}
	return 0
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	return h.f.WritePrometheus(w)
}

// labelString renders {a="x",b="y"}. Missing values render as "unknown".
func labelString(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, len(names))
	for i, name := range names {
		v := "unknown"
		if i < len(values) {
			v = values[i]
		}
		parts[i] = name + `="` + labelEscaper.Replace(v) + `"`
	}
	return "{" + strings.Join(parts, ",") + "}"
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func withLe(labels, le string) string {
	if labels == "" {
		return `{le="` + le + `"}`
	}
	return strings.TrimSuffix(labels, "}") + `,le="` + le + `"}`
}

func formatValue(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}
