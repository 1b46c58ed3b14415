package budget

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testDay = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestMemoryLedgerReserveUntilCapExhausted(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	keyID := uuid.New()

	for i := 0; i < 4; i++ {
		snap, err := l.Reserve(ctx, keyID, testDay, 0.5, 2.0)
		if err != nil {
			t.Fatalf("Reserve #%d: unexpected error %v", i+1, err)
		}
		want := 0.5 * float64(i+1)
		if math.Abs(snap.EpsilonConsumed-want) > 1e-9 {
			t.Errorf("Reserve #%d: EpsilonConsumed = %f, want %f", i+1, snap.EpsilonConsumed, want)
		}
		if snap.QueriesCount != int64(i+1) {
			t.Errorf("Reserve #%d: QueriesCount = %d, want %d", i+1, snap.QueriesCount, i+1)
		}
	}
	if _, err := l.Reserve(ctx, keyID, testDay, 0.5, 2.0); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("Reserve #5: got %v, want ErrBudgetExceeded", err)
	}
}

func TestMemoryLedgerExactCapBoundary(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	keyID := uuid.New()

	// Twenty reservations of 0.1 accumulate float error; the slack keeps the
	// final one at exactly the cap admissible.
	for i := 0; i < 20; i++ {
		if _, err := l.Reserve(ctx, keyID, testDay, 0.1, 2.0); err != nil {
			t.Fatalf("Reserve #%d: unexpected error %v", i+1, err)
		}
	}
	if _, err := l.Reserve(ctx, keyID, testDay, 0.1, 2.0); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("Reserve past cap: got %v, want ErrBudgetExceeded", err)
	}
}

func TestMemoryLedgerReleaseRefunds(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	keyID := uuid.New()

	if _, err := l.Reserve(ctx, keyID, testDay, 1.5, 2.0); err != nil {
		t.Fatalf("Reserve: unexpected error %v", err)
	}
	if _, err := l.Reserve(ctx, keyID, testDay, 1.0, 2.0); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("Reserve over cap: got %v, want ErrBudgetExceeded", err)
	}
	if err := l.Release(ctx, keyID, testDay, 1.5); err != nil {
		t.Fatalf("Release: unexpected error %v", err)
	}
	snap, err := l.Reserve(ctx, keyID, testDay, 1.0, 2.0)
	if err != nil {
		t.Fatalf("Reserve after release: unexpected error %v", err)
	}
	if math.Abs(snap.EpsilonConsumed-1.0) > 1e-9 {
		t.Errorf("EpsilonConsumed after refund = %f, want 1.0", snap.EpsilonConsumed)
	}
	if snap.QueriesCount != 1 {
		t.Errorf("QueriesCount after refund = %d, want 1", snap.QueriesCount)
	}
}

func TestMemoryLedgerDaysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	keyID := uuid.New()

	if _, err := l.Reserve(ctx, keyID, testDay, 2.0, 2.0); err != nil {
		t.Fatalf("Reserve day 1: unexpected error %v", err)
	}
	if _, err := l.Reserve(ctx, keyID, testDay, 0.5, 2.0); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("Reserve day 1 over cap: got %v, want ErrBudgetExceeded", err)
	}
	nextDay := testDay.AddDate(0, 0, 1)
	snap, err := l.Reserve(ctx, keyID, nextDay, 0.5, 2.0)
	if err != nil {
		t.Fatalf("Reserve day 2: unexpected error %v", err)
	}
	if snap.QueriesCount != 1 {
		t.Errorf("day 2 QueriesCount = %d, want 1", snap.QueriesCount)
	}
}

func TestMemoryLedgerKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if _, err := l.Reserve(ctx, uuid.New(), testDay, 2.0, 2.0); err != nil {
		t.Fatalf("Reserve key A: unexpected error %v", err)
	}
	if _, err := l.Reserve(ctx, uuid.New(), testDay, 2.0, 2.0); err != nil {
		t.Errorf("Reserve key B: unexpected error %v", err)
	}
}

func TestMemoryLedgerConcurrentReservationsNeverOverspend(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	keyID := uuid.New()
	const (
		workers  = 32
		attempts = 25
		epsilon  = 0.5
		cap      = 10.0
	)

	var granted int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < attempts; i++ {
				if _, err := l.Reserve(ctx, keyID, testDay, epsilon, cap); err == nil {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if got, want := granted, int64(cap/epsilon); got != want {
		t.Errorf("granted reservations = %d, want %d", got, want)
	}
	snap, err := l.Snapshot(ctx, keyID, testDay, cap)
	if err != nil {
		t.Fatalf("Snapshot: unexpected error %v", err)
	}
	if snap.EpsilonConsumed > cap+1e-9 {
		t.Errorf("EpsilonConsumed = %f exceeds cap %f", snap.EpsilonConsumed, cap)
	}
}

func TestMemoryLedgerSnapshotOfEmptyEntry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	keyID := uuid.New()

	snap, err := l.Snapshot(ctx, keyID, testDay, 3.0)
	if err != nil {
		t.Fatalf("Snapshot: unexpected error %v", err)
	}
	if snap.EpsilonConsumed != 0 || snap.QueriesCount != 0 {
		t.Errorf("empty entry snapshot = %+v, want zero consumption", snap)
	}
	if snap.RemainingEpsilon != 3.0 {
		t.Errorf("RemainingEpsilon = %f, want 3.0", snap.RemainingEpsilon)
	}
	if snap.Date != "2026-03-14" {
		t.Errorf("Date = %q, want 2026-03-14", snap.Date)
	}
}

func TestDayKeyUsesUTC(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	local := time.Date(2026, 3, 14, 23, 30, 0, 0, loc)
	if got := DayKey(local); got != "2026-03-15" {
		t.Errorf("DayKey = %q, want 2026-03-15", got)
	}
}
