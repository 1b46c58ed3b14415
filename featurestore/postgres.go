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
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads pre-aggregated commerce tables through a pgx pool.
// The ETL pipeline that fills transaction_price_agg, order_return_agg,
// shipment_delay_agg and order_volume_agg is outside this repository.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects the store to an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgresStore dials the feature store database and verifies the
// connection.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func truncUnit(g Granularity) string {
	switch g {
	case Weekly:
		return "week"
	case Monthly:
		return "month"
	default:
		return "day"
	}
}

// PriceBuckets implements Store.
func (s *PostgresStore) PriceBuckets(ctx context.Context, q Query) ([]PriceBucket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc($1, bucket_start) AS bucket,
		       SUM(price_sum) / NULLIF(SUM(record_count), 0) AS avg_price,
		       SUM(record_count) AS record_count
		FROM transaction_price_agg
		WHERE bucket_start >= $2 AND bucket_start < $3
		  AND ($4 = '' OR region = $4)
		  AND ($5 = '' OR sector = $5)
		GROUP BY bucket
		ORDER BY bucket`,
		truncUnit(q.Granularity), q.PeriodStart, q.PeriodEnd, q.Region, q.Sector)
	if err != nil {
		return nil, fmt.Errorf("%w: price buckets: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []PriceBucket
	for rows.Next() {
		var b PriceBucket
		if err := rows.Scan(&b.Start, &b.AvgPrice, &b.RecordCount); err != nil {
			return nil, fmt.Errorf("%w: price buckets scan: %v", ErrUnavailable, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: price buckets rows: %v", ErrUnavailable, err)
	}
	return out, nil
}

// ReturnCounts implements Store.
func (s *PostgresStore) ReturnCounts(ctx context.Context, q Query) (ReturnCounts, error) {
	var c ReturnCounts
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(return_count), 0), COALESCE(SUM(order_count), 0)
		FROM order_return_agg
		WHERE bucket_start >= $1 AND bucket_start < $2
		  AND ($3 = '' OR region = $3)
		  AND ($4 = '' OR sector = $4)`,
		q.PeriodStart, q.PeriodEnd, q.Region, q.Sector).Scan(&c.Returns, &c.TotalOrders)
	if err != nil {
		return ReturnCounts{}, fmt.Errorf("%w: return counts: %v", ErrUnavailable, err)
	}
	return c, nil
}

// AreaDelays implements Store.
func (s *PostgresStore) AreaDelays(ctx context.Context, q Query) ([]AreaDelay, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sub_area,
		       SUM(delay_hours_sum) / NULLIF(SUM(shipment_count), 0) AS avg_delay,
		       SUM(shipment_count) AS shipment_count
		FROM shipment_delay_agg
		WHERE bucket_start >= $1 AND bucket_start < $2
		  AND region = $3
		  AND ($4 = '' OR sector = $4)
		GROUP BY sub_area
		ORDER BY avg_delay DESC`,
		q.PeriodStart, q.PeriodEnd, q.Region, q.Sector)
	if err != nil {
		return nil, fmt.Errorf("%w: area delays: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []AreaDelay
	for rows.Next() {
		var d AreaDelay
		if err := rows.Scan(&d.Area, &d.AvgDelayHours, &d.ShipmentCount); err != nil {
			return nil, fmt.Errorf("%w: area delays scan: %v", ErrUnavailable, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: area delays rows: %v", ErrUnavailable, err)
	}
	return out, nil
}

// SalesTotals implements Store.
func (s *PostgresStore) SalesTotals(ctx context.Context, q Query) ([]SalesBucket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc($1, bucket_start) AS bucket,
		       SUM(order_count) AS orders,
		       SUM(record_count) AS record_count
		FROM order_volume_agg
		WHERE bucket_start >= $2 AND bucket_start < $3
		  AND ($4 = '' OR region = $4)
		  AND ($5 = '' OR sector = $5)
		GROUP BY bucket
		ORDER BY bucket`,
		truncUnit(q.Granularity), q.PeriodStart, q.PeriodEnd, q.Region, q.Sector)
	if err != nil {
		return nil, fmt.Errorf("%w: sales totals: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []SalesBucket
	for rows.Next() {
		var b SalesBucket
		if err := rows.Scan(&b.Start, &b.Orders, &b.RecordCount); err != nil {
			return nil, fmt.Errorf("%w: sales totals scan: %v", ErrUnavailable, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sales totals rows: %v", ErrUnavailable, err)
	}
	return out, nil
}
