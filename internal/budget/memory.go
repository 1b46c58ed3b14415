package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is a process-local Ledger for single-instance deployments and
// tests. All methods are safe for concurrent use.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	epsilonConsumed float64
	queriesCount    int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*memoryEntry)}
}

func memoryKey(keyID uuid.UUID, day time.Time) string {
	return keyID.String() + ":" + DayKey(day)
}

func (l *MemoryLedger) Reserve(_ context.Context, keyID uuid.UUID, day time.Time, epsilon, dailyCap float64) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[memoryKey(keyID, day)]
	if e == nil {
		e = &memoryEntry{}
		l.entries[memoryKey(keyID, day)] = e
	}
	if e.epsilonConsumed+epsilon > dailyCap+epsilonSlack {
		return Snapshot{}, fmt.Errorf("%w: consumed %.4f of %.4f, requested %.4f",
			ErrBudgetExceeded, e.epsilonConsumed, dailyCap, epsilon)
	}
	e.epsilonConsumed += epsilon
	e.queriesCount++
	return Snapshot{
		InstitutionKeyID: keyID,
		Date:             DayKey(day),
		EpsilonConsumed:  e.epsilonConsumed,
		QueriesCount:     e.queriesCount,
		RemainingEpsilon: remaining(dailyCap, e.epsilonConsumed),
	}, nil
}

func (l *MemoryLedger) Release(_ context.Context, keyID uuid.UUID, day time.Time, epsilon float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[memoryKey(keyID, day)]
	if e == nil {
		return nil
	}
	e.epsilonConsumed -= epsilon
	if e.epsilonConsumed < 0 {
		e.epsilonConsumed = 0
	}
	if e.queriesCount > 0 {
		e.queriesCount--
	}
	return nil
}

func (l *MemoryLedger) Snapshot(_ context.Context, keyID uuid.UUID, day time.Time, dailyCap float64) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Snapshot{
		InstitutionKeyID: keyID,
		Date:             DayKey(day),
		RemainingEpsilon: dailyCap,
	}
	if e := l.entries[memoryKey(keyID, day)]; e != nil {
		s.EpsilonConsumed = e.epsilonConsumed
		s.QueriesCount = e.queriesCount
		s.RemainingEpsilon = remaining(dailyCap, e.epsilonConsumed)
	}
	return s, nil
}
