package testutil

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/aggregates"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
)

// InjectedTxRunner forces failures at chosen points of a unit of work. With
// DB set the body runs through aggregates.Within, so an injected commit
// failure rolls real writes back.
type InjectedTxRunner struct {
	DB *gorm.DB

	FailBegin  error
	FailCommit error
	// FailCommitOnCall limits FailCommit to the n-th call (1-based); zero
	// means every call.
	FailCommitOnCall int

	mu            sync.Mutex
	BeginCalls    int
	CommitCalls   int
	RollbackCalls int
}

var _ aggregates.TxRunner = (*InjectedTxRunner)(nil)

func (r *InjectedTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	failCommit, err := r.begin()
	if err != nil {
		return err
	}
	body := func(dbc dbctx.Context) error {
		if fn != nil {
			if err := fn(dbc); err != nil {
				return err
			}
		}
		return failCommit
	}

	if r.DB != nil {
		err = aggregates.Within(dbctx.Background(ctx), r.DB, body)
	} else {
		err = body(dbctx.Background(ctx))
	}
	r.finish(err == nil)
	return err
}

// begin counts the call and returns the commit failure that applies to it.
func (r *InjectedTxRunner) begin() (error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BeginCalls++
	if r.FailBegin != nil {
		return nil, r.FailBegin
	}
	if r.FailCommitOnCall > 0 && r.FailCommitOnCall != r.BeginCalls {
		return nil, nil
	}
	return r.FailCommit, nil
}

func (r *InjectedTxRunner) finish(committed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if committed {
		r.CommitCalls++
	} else {
		r.RollbackCalls++
	}
}
