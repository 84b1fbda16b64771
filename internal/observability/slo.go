package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/yungbote/quizgen-backend/internal/platform/envutil"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

// window is a ring of per-tick deltas whose running sum covers the SLO
// window.
type window struct {
	ring []float64
	pos  int
	sum  float64
}

func newWindow(ticks int) *window {
	return &window{ring: make([]float64, max(ticks, 1))}
}

func (w *window) push(v float64) {
	w.sum += v - w.ring[w.pos]
	w.ring[w.pos] = v
	w.pos = (w.pos + 1) % len(w.ring)
}

// objective is one SLI fed by a pair of monotonic counters.
type objective struct {
	name   string
	target float64
	events func() float64
	errors func() float64

	lastEvents, lastErrors float64
	eventWin, errorWin     *window
}

// tick folds the counter growth since the last tick into the window and
// returns the window totals.
func (o *objective) tick() (events, errs float64) {
	ev, er := o.events(), o.errors()
	o.eventWin.push(delta(ev, o.lastEvents))
	o.errorWin.push(delta(er, o.lastErrors))
	o.lastEvents, o.lastErrors = ev, er
	return o.eventWin.sum, o.errorWin.sum
}

type SLOEvaluator struct {
	metrics     *Metrics
	interval    time.Duration
	windowLabel string
	objectives  []*objective
	alerts      *burnAlerter
}

// StartSLOEvaluator publishes compliance, error budget and burn rate per
// objective every SLO_EVAL_INTERVAL_SECONDS. Disabled unless SLO_ENABLED.
func (m *Metrics) StartSLOEvaluator(ctx context.Context, log *logger.Logger) {
	if m == nil || !envutil.Bool("SLO_ENABLED", false) {
		return
	}
	e := newSLOEvaluator(m, log)
	go e.run(ctx)
	if log != nil {
		log.Info("SLO evaluator started", "window", e.windowLabel, "interval", e.interval.String())
	}
}

func newSLOEvaluator(m *Metrics, log *logger.Logger) *SLOEvaluator {
	interval := envutil.Seconds("SLO_EVAL_INTERVAL_SECONDS", time.Minute)
	span := envutil.Seconds("SLO_WINDOW_SECONDS", 30*24*time.Hour)
	if span < time.Hour {
		span = 24 * time.Hour
	}
	ticks := int(span / interval)

	e := &SLOEvaluator{
		metrics:     m,
		interval:    interval,
		windowLabel: formatWindowLabel(span),
		alerts:      newBurnAlerter(log),
	}
	track := func(name, targetEnv string, def float64, events, errs func() float64) {
		e.objectives = append(e.objectives, &objective{
			name:     name,
			target:   clamp01(envFloat(targetEnv, def)),
			events:   events,
			errors:   errs,
			eventWin: newWindow(ticks),
			errorWin: newWindow(ticks),
		})
	}
	track("api_availability", "SLO_API_AVAIL_TARGET", 0.995, m.apiReqTotal.Value, m.apiReqError.Value)
	track("api_latency", "SLO_API_LATENCY_TARGET", 0.95, m.apiReqTotal.Value, func() float64 {
		return m.apiReqTotal.Value() - m.apiReqGood.Value()
	})
	track("generation_success", "SLO_GENERATION_SUCCESS_TARGET", 0.97, m.genTotal.Value, m.genFailed.Value)
	track("billing_settlement", "SLO_BILLING_SETTLEMENT_TARGET", 0.999, m.settleTotal.Value, m.settleFailed.Value)
	return e
}

func (e *SLOEvaluator) run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evaluate()
			e.alerts.flush(ctx)
		}
	}
}

func (e *SLOEvaluator) evaluate() {
	for _, o := range e.objectives {
		events, errs := o.tick()
		sli, budget, burn := 1.0, 1.0, 0.0
		if events > 0 {
			sli = clamp01(1 - errs/events)
			if o.target < 1 {
				burn = (1 - sli) / (1 - o.target)
			}
			budget = clamp01(1 - burn)
		}
		e.metrics.sloCompliance.Set(sli, o.name, e.windowLabel)
		e.metrics.sloBudget.Set(budget, o.name, e.windowLabel)
		e.metrics.sloBurn.Set(burn, o.name, e.windowLabel)
		e.alerts.consider(burnAlert{
			SLO:     o.name,
			Window:  e.windowLabel,
			SLI:     sli,
			Target:  o.target,
			Burn:    burn,
			Budget:  budget,
			Emitted: time.Now().UTC(),
		})
	}
}

type burnAlert struct {
	Title    string    `json:"title"`
	Severity string    `json:"severity"`
	Owner    string    `json:"owner"`
	SLO      string    `json:"slo"`
	Window   string    `json:"window"`
	SLI      float64   `json:"sli"`
	Target   float64   `json:"target"`
	Burn     float64   `json:"burn_rate"`
	Budget   float64   `json:"error_budget_remaining"`
	Runbook  string    `json:"runbook,omitempty"`
	Emitted  time.Time `json:"timestamp"`
}

// burnAlerter posts to SLO_ALERT_WEBHOOK_URL when an objective burns faster
// than the warn or crit rate, at most once per SLO_ALERT_MIN_INTERVAL_SECONDS
// per objective and severity.
type burnAlerter struct {
	log      *logger.Logger
	webhook  string
	owner    string
	runbook  string
	cooldown time.Duration
	warnRate float64
	critRate float64
	client   *http.Client
	mu       sync.Mutex
	lastSent map[string]time.Time
	pending  []burnAlert
}

func newBurnAlerter(log *logger.Logger) *burnAlerter {
	return &burnAlerter{
		log:      log,
		webhook:  envutil.String("SLO_ALERT_WEBHOOK_URL", ""),
		owner:    envutil.String("SLO_ALERT_OWNER", ""),
		runbook:  envutil.String("SLO_ALERT_RUNBOOK_URL", ""),
		cooldown: envutil.Seconds("SLO_ALERT_MIN_INTERVAL_SECONDS", 15*time.Minute),
		warnRate: envFloat("SLO_ALERT_BURN_RATE_WARN", 2),
		critRate: envFloat("SLO_ALERT_BURN_RATE_CRIT", 10),
		client:   &http.Client{Timeout: 5 * time.Second},
		lastSent: map[string]time.Time{},
	}
}

func (a *burnAlerter) consider(al burnAlert) {
	if a.webhook == "" || a.owner == "" {
		return
	}
	switch {
	case al.Burn >= a.critRate:
		al.Severity = "critical"
	case al.Burn >= a.warnRate:
		al.Severity = "warning"
	default:
		return
	}
	key := al.SLO + ":" + al.Severity
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.lastSent[key]; ok && time.Since(last) < a.cooldown {
		return
	}
	a.lastSent[key] = time.Now()
	al.Title = "SLO burn rate alert"
	al.Owner = a.owner
	al.Runbook = a.runbook
	a.pending = append(a.pending, al)
}

func (a *burnAlerter) flush(ctx context.Context) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()
	for _, al := range batch {
		if err := a.post(ctx, al); err != nil && a.log != nil {
			a.log.Warn("slo alert post failed", "error", err, "slo", al.SLO, "severity", al.Severity)
		}
	}
}

func (a *burnAlerter) post(ctx context.Context, al burnAlert) error {
	body, err := json.Marshal(al)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if a.log != nil {
		a.log.Info("slo alert sent", "slo", al.SLO, "severity", al.Severity, "status", resp.StatusCode)
	}
	return nil
}

// delta treats a counter that went backwards as restarted.
func delta(current, prev float64) float64 {
	if current < prev {
		return current
	}
	return current - prev
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(envutil.String(key, ""), 64); err == nil {
		return f
	}
	return def
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func formatWindowLabel(span time.Duration) string {
	switch hours := int(span.Hours()); {
	case hours >= 24 && hours%24 == 0:
		return strconv.Itoa(hours/24) + "d"
	case hours >= 1:
		return strconv.Itoa(hours) + "h"
	default:
		return strconv.Itoa(int(span.Minutes())) + "m"
	}
}
