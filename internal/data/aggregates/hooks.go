package aggregates

import (
	"time"

	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/observability"
)

// Outcome describes one finished write. Code is empty on success.
type Outcome struct {
	Op       string
	Code     domainagg.ErrorCode
	Duration time.Duration
}

func (o Outcome) Status() string {
	if o.Code == "" {
		return "success"
	}
	return string(o.Code)
}

// Hooks receives the outcome of every ExecuteWrite call.
type Hooks interface {
	OnWrite(Outcome)
}

// HooksFunc adapts a plain function to Hooks.
type HooksFunc func(Outcome)

func (f HooksFunc) OnWrite(o Outcome) { f(o) }

var discardHooks = HooksFunc(func(Outcome) {})

// NewObservabilityHooks records outcomes as aggregate metrics. Transient
// failures also count as retries.
func NewObservabilityHooks(metrics *observability.Metrics) Hooks {
	if metrics == nil {
		return discardHooks
	}
	return HooksFunc(func(o Outcome) {
		metrics.ObserveAggregateOperation(o.Op, o.Status(), o.Duration)
		if o.Code == domainagg.CodeConflict {
			metrics.IncAggregateConflict(o.Op)
		}
		if o.Code.Transient() {
			metrics.IncAggregateRetry(o.Op)
		}
	})
}
