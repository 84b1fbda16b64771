package services

import (
	"context"
	"time"

	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

const defaultSweepBatch = 200

// ReservationSweeper returns tokens held by reservations that outlived their
// TTL, typically because the job that took them never settled.
type ReservationSweeper struct {
	log      *logger.Logger
	ledger   TokenLedger
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewReservationSweeper(baseLog *logger.Logger, ledger TokenLedger, interval time.Duration, batch int) *ReservationSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &ReservationSweeper{
		log:      baseLog.With("service", "ReservationSweeper"),
		ledger:   ledger,
		interval: interval,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *ReservationSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("Reservation sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce drains expired reservations batch by batch.
func (s *ReservationSweeper) SweepOnce(ctx context.Context) (int, error) {
	total := 0
	now := s.now()
	for {
		n, err := s.ledger.SweepExpired(ctx, now, s.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batch || ctx.Err() != nil {
			return total, nil
		}
	}
}
