// Package ratelimit enforces per-institution daily query caps. The counter
// increments as part of the admission check, so concurrent requests cannot
// slip past the limit between a read and a write.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRateLimitExceeded reports that the institution has used its daily
// query allowance.
var ErrRateLimitExceeded = errors.New("daily rate limit exceeded")

// Limiter admits or rejects one query attempt.
type Limiter interface {
	// Allow counts one attempt for the institution's UTC day and returns
	// ErrRateLimitExceeded when the count would pass limit.
	Allow(ctx context.Context, keyID uuid.UUID, day time.Time, limit int) error
	// Count reports the queries admitted so far for the UTC day.
	Count(ctx context.Context, keyID uuid.UUID, day time.Time) (int64, error)
}

// DayKey renders the UTC calendar day of t.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
