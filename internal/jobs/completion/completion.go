// Package completion carries executor completion events to the orchestrator.
// Delivery is at least once; handlers must tolerate duplicates.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
)

// Handler processes one event. A nil return acknowledges it.
type Handler func(ctx context.Context, ev jobs.CompletionEvent) error

type Publisher interface {
	Publish(ctx context.Context, ev jobs.CompletionEvent) error
}

type Consumer interface {
	// Run blocks until ctx is done, feeding events to h.
	Run(ctx context.Context, h Handler) error
}

// Queue is a Publisher and Consumer over the same transport.
type Queue interface {
	Publisher
	Consumer
	Close() error
}

var ErrClosed = errors.New("completion queue closed")

// Encode serializes ev, assigning an event id when it has none.
func Encode(ev jobs.CompletionEvent) ([]byte, error) {
	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}
	if ev.JobID == uuid.Nil {
		return nil, fmt.Errorf("completion event: missing job_id")
	}
	return json.Marshal(ev)
}

func Decode(raw []byte) (jobs.CompletionEvent, error) {
	var ev jobs.CompletionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return jobs.CompletionEvent{}, fmt.Errorf("completion event: %w", err)
	}
	if ev.JobID == uuid.Nil {
		return jobs.CompletionEvent{}, fmt.Errorf("completion event: missing job_id")
	}
	return ev, nil
}
