package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/quizgen-backend/internal/app"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/services"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

// settle_billing retries the token commit for completed jobs whose billing
// never settled, and optionally sweeps expired reservations first.
func main() {
	var ids idList
	var dryRun bool
	var sweep bool
	var limit int
	flag.Var(&ids, "job", "generation job id to settle (repeatable)")
	flag.BoolVar(&dryRun, "dry-run", false, "print the jobs that would be settled")
	flag.BoolVar(&sweep, "sweep", false, "also release expired reservations")
	flag.IntVar(&limit, "limit", 100, "max jobs scanned when no -job is given")
	flag.Parse()

	ctx := context.Background()
	application, err := app.New(ctx, app.ModeAPI)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	// Sweep first so jobs whose reservation expired settle as released below.
	if sweep && !dryRun {
		n, err := application.Services.Sweeper.SweepOnce(ctx)
		if err != nil {
			fmt.Printf("sweep: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("released %d expired reservations\n", n)
	}

	var rows []*types.GenerationJob
	if len(ids) > 0 {
		parsed := make([]uuid.UUID, 0, len(ids))
		for _, s := range ids {
			id, err := uuid.Parse(s)
			if err == nil && id != uuid.Nil {
				parsed = append(parsed, id)
			}
		}
		if len(parsed) == 0 {
			fmt.Println("no valid -job values provided")
			return
		}
		err = application.DB.WithContext(ctx).Where("id IN ?", parsed).Find(&rows).Error
	} else {
		err = application.DB.WithContext(ctx).
			Where("status = ? AND billing_state = ?", jobs.StatusCompleted, jobs.BillingReserved).
			Order("updated_at ASC").
			Limit(limit).
			Find(&rows).Error
	}
	if err != nil {
		fmt.Printf("load jobs: %v\n", err)
		os.Exit(1)
	}

	settled := 0
	for _, job := range rows {
		if job == nil || job.Status != jobs.StatusCompleted {
			continue
		}
		if dryRun {
			fmt.Printf("[dry-run] job=%s user=%s billing_state=%s last_error=%q\n", job.ID, job.UserID, job.BillingState, job.LastBillingError.Message)
			continue
		}
		out, err := application.Services.Generation.CommitTokens(ctx, job.ID)
		if err != nil {
			fmt.Printf("job=%s commit failed: %v\n", job.ID, err)
			continue
		}
		fmt.Printf("job=%s outcome=%s committed=%d released=%d capped=%v\n", job.ID, out.Kind, out.CommittedTokens, out.ReleasedTokens, out.WasCapped)
		if out.Kind == services.CommitCommitted || out.Kind == services.CommitReleased {
			settled++
		}
	}
	fmt.Printf("settled %d of %d jobs\n", settled, len(rows))
}
