//
// Copyright 2025 Civic Grid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package featurestore

import (
	"context"
	"sync"
	"time"
)

type seedKey struct {
	region string
	sector string
}

// MemoryStore is a deterministic in-process Store used by tests and local
// runs. Seed it with fixtures keyed by (region, sector); an empty region or
// sector acts as the population-wide rollup, which is also what a
// generalized re-query lands on.
type MemoryStore struct {
	mu           sync.RWMutex
	priceBuckets map[seedKey][]PriceBucket
	returnCounts map[seedKey]ReturnCounts
	areaDelays   map[seedKey][]AreaDelay
	salesBuckets map[seedKey][]SalesBucket
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		priceBuckets: make(map[seedKey][]PriceBucket),
		returnCounts: make(map[seedKey]ReturnCounts),
		areaDelays:   make(map[seedKey][]AreaDelay),
		salesBuckets: make(map[seedKey][]SalesBucket),
	}
}

// SeedPriceBuckets registers a price series fixture.
func (s *MemoryStore) SeedPriceBuckets(region, sector string, buckets []PriceBucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceBuckets[seedKey{region, sector}] = buckets
}

// SeedReturnCounts registers a returns fixture.
func (s *MemoryStore) SeedReturnCounts(region, sector string, counts ReturnCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.returnCounts[seedKey{region, sector}] = counts
}

// SeedAreaDelays registers a logistics fixture.
func (s *MemoryStore) SeedAreaDelays(region, sector string, delays []AreaDelay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areaDelays[seedKey{region, sector}] = delays
}

// SeedSalesBuckets registers a sales volume fixture.
func (s *MemoryStore) SeedSalesBuckets(region, sector string, buckets []SalesBucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salesBuckets[seedKey{region, sector}] = buckets
}

// PriceBuckets implements Store.
func (s *MemoryStore) PriceBuckets(ctx context.Context, q Query) ([]PriceBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.priceBuckets[seedKey{q.Region, q.Sector}]
	var out []PriceBucket
	for _, b := range all {
		if inWindow(b.Start, q) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ReturnCounts implements Store.
func (s *MemoryStore) ReturnCounts(ctx context.Context, q Query) (ReturnCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.returnCounts[seedKey{q.Region, q.Sector}], nil
}

// AreaDelays implements Store.
func (s *MemoryStore) AreaDelays(ctx context.Context, q Query) ([]AreaDelay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.areaDelays[seedKey{q.Region, q.Sector}], nil
}

// SalesTotals implements Store.
func (s *MemoryStore) SalesTotals(ctx context.Context, q Query) ([]SalesBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.salesBuckets[seedKey{q.Region, q.Sector}]
	var out []SalesBucket
	for _, b := range all {
		if inWindow(b.Start, q) {
			out = append(out, b)
		}
	}
	return out, nil
}

func inWindow(t time.Time, q Query) bool {
	return !t.Before(q.PeriodStart) && t.Before(q.PeriodEnd)
}
