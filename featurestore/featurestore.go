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

// Package featurestore defines the narrow read-only seam to the external
// data layer. It returns raw, un-noised aggregates together with the record
// counts the k-anonymity filter needs. No privacy logic lives here; keeping
// this boundary clean is what makes the DP and k-anonymity layers testable
// against deterministic fixtures.
package featurestore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps feature-store I/O failures. It is the only
// caller-retryable error in the system; privacy and auth rejections are
// never retried.
var ErrUnavailable = errors.New("feature store unavailable")

// Granularity selects the time-bucket width of a series.
type Granularity string

// Supported bucket widths.
const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// ToGranularity parses a granularity name.
func ToGranularity(s string) (Granularity, bool) {
	switch Granularity(s) {
	case Daily, Weekly, Monthly:
		return Granularity(s), true
	}
	return "", false
}

// Query narrows an aggregate read. Region and Sector are optional; an empty
// value means the whole population.
type Query struct {
	Region      string
	Sector      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Granularity Granularity
}

// PriceBucket is a raw per-time-bucket price aggregate.
type PriceBucket struct {
	Start       time.Time
	AvgPrice    float64
	RecordCount int64
}

// ReturnCounts are the raw order/return totals over a query window.
type ReturnCounts struct {
	Returns     int64
	TotalOrders int64
}

// AreaDelay is a raw per-sub-area delivery delay aggregate.
type AreaDelay struct {
	Area          string
	AvgDelayHours float64
	ShipmentCount int64
}

// SalesBucket is a raw per-time-bucket order volume aggregate.
type SalesBucket struct {
	Start       time.Time
	Orders      int64
	RecordCount int64
}

// Store is the collaborator interface the excluded ETL/storage subsystem
// plugs into. Implementations must not noise or filter anything.
type Store interface {
	// PriceBuckets returns per-bucket average prices over the query window.
	PriceBuckets(ctx context.Context, q Query) ([]PriceBucket, error)
	// ReturnCounts returns order and return totals over the query window.
	ReturnCounts(ctx context.Context, q Query) (ReturnCounts, error)
	// AreaDelays returns per-sub-area delay aggregates for the query region.
	AreaDelays(ctx context.Context, q Query) ([]AreaDelay, error)
	// SalesTotals returns per-bucket order volumes over the query window.
	SalesTotals(ctx context.Context, q Query) ([]SalesBucket, error)
}
