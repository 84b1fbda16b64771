package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/platform/envutil"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	jobTransitions   *CounterVec
	jobStatus        *GaugeVec
	ledgerOps        *CounterVec
	ledgerLatency    *HistogramVec
	ledgerTokens     *CounterVec
	cappedCommits    *Counter
	billingErrors    *CounterVec
	completionEvents *CounterVec
	titleCollisions  *Counter
	sweptExpired     *Counter

	aggregateOps       *HistogramVec
	aggregateConflicts *CounterVec
	aggregateRetries   *CounterVec

	llmRequests *CounterVec
	llmLatency  *HistogramVec
	llmTokens   *CounterVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge

	// SLO sources, label-free so the evaluator can diff them.
	apiReqTotal   *Counter
	apiReqError   *Counter
	apiReqGood    *Counter
	genTotal      *Counter
	genFailed     *Counter
	settleTotal   *Counter
	settleFailed  *Counter
	sloCompliance *GaugeVec
	sloBudget     *GaugeVec
	sloBurn       *GaugeVec
}

// apiLatencyGood is the latency under which a request counts as good.
const apiLatencyGood = time.Second

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	return envutil.Seconds("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
}

// Init builds the process-wide registry. It returns nil when METRICS_ENABLED
// is off; every method on a nil *Metrics is a no-op.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// New builds an unregistered Metrics value. Tests use it directly.
func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("qg_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"qg_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		),
		apiInflight: NewGauge("qg_api_inflight_requests", "In-flight API requests."),

		jobTransitions:   NewCounterVec("qg_generation_job_transitions_total", "Generation job status transitions.", []string{"status"}),
		jobStatus:        NewGaugeVec("qg_generation_jobs", "Generation jobs by status.", []string{"status"}),
		ledgerOps:        NewCounterVec("qg_ledger_operations_total", "Ledger operations by op/result.", []string{"op", "result"}),
		ledgerLatency:    NewHistogramVec("qg_ledger_operation_duration_seconds", "Ledger operation latency by op.", []string{"op"}, nil),
		ledgerTokens:     NewCounterVec("qg_ledger_tokens_total", "Tokens moved by the ledger by op.", []string{"op"}),
		cappedCommits:    NewCounter("qg_ledger_capped_commits_total", "Commits whose actual cost exceeded the reservation."),
		billingErrors:    NewCounterVec("qg_billing_errors_total", "Billing failures recorded on jobs by kind.", []string{"kind"}),
		completionEvents: NewCounterVec("qg_completion_events_total", "Completion events handled by outcome/result.", []string{"outcome", "result"}),
		titleCollisions:  NewCounter("qg_quiz_title_collisions_total", "Quiz inserts retried after a title collision."),
		sweptExpired:     NewCounter("qg_ledger_swept_reservations_total", "Expired reservations released by the sweeper."),

		aggregateOps:       NewHistogramVec("qg_aggregate_operation_duration_seconds", "Aggregate write latency by name/status.", []string{"name", "status"}, nil),
		aggregateConflicts: NewCounterVec("qg_aggregate_conflicts_total", "Aggregate write conflicts by name.", []string{"name"}),
		aggregateRetries:   NewCounterVec("qg_aggregate_retries_total", "Aggregate write failures worth retrying (conflict or retryable) by name.", []string{"name"}),

		llmRequests: NewCounterVec("qg_llm_requests_total", "LLM requests by model/endpoint/status.", []string{"model", "endpoint", "status"}),
		llmLatency:  NewHistogramVec("qg_llm_request_duration_seconds", "LLM request latency by model/endpoint.", []string{"model", "endpoint"}, []float64{0.5, 1, 2, 5, 10, 30, 60, 120}),
		llmTokens:   NewCounterVec("qg_llm_tokens_total", "LLM tokens by model/direction.", []string{"model", "direction"}),

		pgStats:   NewGaugeVec("qg_db_pool", "Database pool stats.", []string{"stat"}),
		redisUp:   NewGauge("qg_redis_up", "Redis reachability (1 up, 0 down)."),
		redisPing: NewGauge("qg_redis_ping_seconds", "Redis ping latency in seconds."),

		apiReqTotal:   NewCounter("qg_slo_api_requests_total", "API requests counted toward SLOs."),
		apiReqError:   NewCounter("qg_slo_api_errors_total", "API requests that returned 5xx."),
		apiReqGood:    NewCounter("qg_slo_api_fast_total", "API requests served under the latency objective."),
		genTotal:      NewCounter("qg_slo_generations_total", "Generation jobs that reached completed or failed."),
		genFailed:     NewCounter("qg_slo_generations_failed_total", "Generation jobs that failed."),
		settleTotal:   NewCounter("qg_slo_settlements_total", "Commit attempts for completed jobs."),
		settleFailed:  NewCounter("qg_slo_settlements_failed_total", "Commit attempts that left a billing error."),
		sloCompliance: NewGaugeVec("qg_slo_compliance", "SLI over the SLO window.", []string{"slo", "window"}),
		sloBudget:     NewGaugeVec("qg_slo_error_budget_remaining", "Remaining error budget (0..1).", []string{"slo", "window"}),
		sloBurn:       NewGaugeVec("qg_slo_burn_rate", "Error budget burn rate.", []string{"slo", "window"}),
	}
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) all() []promWriter {
	return []promWriter{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.jobTransitions, m.jobStatus, m.ledgerOps, m.ledgerLatency, m.ledgerTokens,
		m.cappedCommits, m.billingErrors, m.completionEvents, m.titleCollisions, m.sweptExpired,
		m.aggregateOps, m.aggregateConflicts, m.aggregateRetries,
		m.llmRequests, m.llmLatency, m.llmTokens,
		m.pgStats, m.redisUp, m.redisPing,
		m.apiReqTotal, m.apiReqError, m.apiReqGood,
		m.genTotal, m.genFailed, m.settleTotal, m.settleFailed,
		m.sloCompliance, m.sloBudget, m.sloBurn,
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, metric := range m.all() {
		if err := metric.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	method = orUnknown(method)
	route = orUnknown(route)
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	m.apiReqTotal.Inc()
	if strings.HasPrefix(status, "5") {
		m.apiReqError.Inc()
	}
	if dur <= apiLatencyGood {
		m.apiReqGood.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncJobTransition(status string) {
	if m == nil {
		return
	}
	m.jobTransitions.Inc(orUnknown(status))
	switch status {
	case jobs.StatusCompleted:
		m.genTotal.Inc()
	case jobs.StatusFailed:
		m.genTotal.Inc()
		m.genFailed.Inc()
	}
}

// ObserveLedgerOp records one ledger call. result is "ok", "replay" or an
// error code.
func (m *Metrics) ObserveLedgerOp(op, result string, tokens int64, dur time.Duration) {
	if m == nil {
		return
	}
	op = orUnknown(op)
	m.ledgerOps.Inc(op, orUnknown(result))
	if op == "commit" && (result == "ok" || result == "replay") {
		m.settleTotal.Inc()
	}
	m.ledgerLatency.Observe(dur.Seconds(), op)
	if tokens > 0 {
		m.ledgerTokens.Add(float64(tokens), op)
	}
}

func (m *Metrics) IncCappedCommit() {
	if m == nil {
		return
	}
	m.cappedCommits.Inc()
}

func (m *Metrics) IncBillingError(kind string) {
	if m == nil {
		return
	}
	m.billingErrors.Inc(orUnknown(kind))
	m.settleTotal.Inc()
	m.settleFailed.Inc()
}

func (m *Metrics) IncCompletionEvent(outcome, result string) {
	if m == nil {
		return
	}
	m.completionEvents.Inc(orUnknown(outcome), orUnknown(result))
}

func (m *Metrics) IncTitleCollision() {
	if m == nil {
		return
	}
	m.titleCollisions.Inc()
}

func (m *Metrics) AddSweptReservations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptExpired.Add(float64(n))
}

func (m *Metrics) ObserveAggregateOperation(name, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.aggregateOps.Observe(dur.Seconds(), orUnknown(name), orUnknown(status))
}

func (m *Metrics) IncAggregateConflict(name string) {
	if m == nil {
		return
	}
	m.aggregateConflicts.Inc(orUnknown(name))
}

func (m *Metrics) IncAggregateRetry(name string) {
	if m == nil {
		return
	}
	m.aggregateRetries.Inc(orUnknown(name))
}

func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	model = orUnknown(model)
	endpoint = orUnknown(endpoint)
	m.llmRequests.Inc(model, endpoint, orUnknown(status))
	m.llmLatency.Observe(dur.Seconds(), model, endpoint)
	if inputTokens > 0 {
		m.llmTokens.Add(float64(inputTokens), model, "input")
	}
	if outputTokens > 0 {
		m.llmTokens.Add(float64(outputTokens), model, "output")
	}
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartJobStatusCollector periodically publishes generation job counts by status.
func (m *Metrics) StartJobStatusCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	statuses := append(append([]string{}, jobs.ActiveStatuses...), jobs.TerminalStatuses...)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range statuses {
					m.jobStatus.Set(0, s)
				}
				var rows []struct {
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&types.GenerationJob{}).
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: job status query failed", "error", err)
					}
					continue
				}
				for _, row := range rows {
					m.jobStatus.Set(float64(row.Count), orUnknown(row.Status))
				}
			}
		}
	}()
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
