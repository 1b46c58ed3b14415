// Package budget tracks per-institution, per-UTC-day privacy-budget
// consumption. The ledger exposes an atomic reserve-then-finalize primitive:
// the orchestrator reserves ε before computing an aggregate and releases the
// reservation if the aggregation fails, so two concurrent requests can never
// jointly overspend a daily cap.
package budget

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBudgetExceeded reports a reservation that would surpass the daily cap.
var ErrBudgetExceeded = errors.New("daily epsilon budget exceeded")

// epsilonSlack absorbs float accumulation error at the cap boundary.
const epsilonSlack = 1e-9

// Snapshot is the state of one institution-day ledger entry.
type Snapshot struct {
	InstitutionKeyID uuid.UUID `json:"institution_key_id"`
	Date             string    `json:"date"`
	EpsilonConsumed  float64   `json:"epsilon_consumed"`
	QueriesCount     int64     `json:"queries_count"`
	RemainingEpsilon float64   `json:"remaining_epsilon"`
}

// Ledger is the budget store. Entries are keyed by (institution, UTC day);
// the day is computed lazily from the supplied timestamp, so no background
// sweep is needed.
type Ledger interface {
	// Reserve atomically checks and consumes epsilon against dailyCap. On
	// success the amount is already counted; callers must Release it if the
	// work it was reserved for fails.
	Reserve(ctx context.Context, keyID uuid.UUID, day time.Time, epsilon, dailyCap float64) (Snapshot, error)
	// Release refunds a reservation whose work failed.
	Release(ctx context.Context, keyID uuid.UUID, day time.Time, epsilon float64) error
	// Snapshot reads the current entry without mutating it.
	Snapshot(ctx context.Context, keyID uuid.UUID, day time.Time, dailyCap float64) (Snapshot, error)
}

// DayKey renders the UTC calendar day of t.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func remaining(cap, consumed float64) float64 {
	r := cap - consumed
	if r < 0 {
		return 0
	}
	return r
}
