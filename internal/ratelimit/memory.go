package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLimiter is a process-local Limiter for single-instance deployments
// and tests.
type MemoryLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counts: make(map[string]int64)}
}

func memoryKey(keyID uuid.UUID, day time.Time) string {
	return keyID.String() + ":" + DayKey(day)
}

func (l *MemoryLimiter) Allow(_ context.Context, keyID uuid.UUID, day time.Time, limit int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := memoryKey(keyID, day)
	if l.counts[k] >= int64(limit) {
		return fmt.Errorf("%w: %d queries used of %d", ErrRateLimitExceeded, l.counts[k], limit)
	}
	l.counts[k]++
	return nil
}

func (l *MemoryLimiter) Count(_ context.Context, keyID uuid.UUID, day time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[memoryKey(keyID, day)], nil
}
