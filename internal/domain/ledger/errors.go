package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrInvalidAmount       = errors.New("invalid token amount")
)

// InsufficientTokensError is returned by Reserve when the available balance
// cannot cover the estimate.
type InsufficientTokensError struct {
	Estimated int64
	Available int64
	Shortfall int64
	TTL       time.Duration
}

func (e *InsufficientTokensError) Error() string {
	if e == nil {
		return "insufficient tokens"
	}
	return fmt.Sprintf("insufficient tokens: estimated=%d available=%d shortfall=%d", e.Estimated, e.Available, e.Shortfall)
}
