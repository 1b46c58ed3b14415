// Package insights runs the full query pipeline: request validation, key
// validation, rate-limit admission, epsilon reservation, aggregation, and
// refund of the reservation when aggregation fails.
package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lydianiq/civicgrid/aggregator"
	"github.com/lydianiq/civicgrid/checks"
	"github.com/lydianiq/civicgrid/featurestore"
	"github.com/lydianiq/civicgrid/internal/auth"
	"github.com/lydianiq/civicgrid/internal/budget"
	"github.com/lydianiq/civicgrid/internal/platform/logger"
	"github.com/lydianiq/civicgrid/internal/ratelimit"
)

// ErrInvalidRequest reports a request rejected before any quota was touched.
var ErrInvalidRequest = errors.New("invalid insight request")

// Epsilon bounds of a single query. Requests below the floor produce noise
// too large to be useful; requests above the ceiling drain a day's budget
// in one call.
const (
	DefaultEpsilon = 1.0
	MinEpsilon     = 0.1
	MaxEpsilon     = 5.0
)

// defaultStoreTimeout bounds one feature-store round trip.
const defaultStoreTimeout = 5 * time.Second

// refundTimeout bounds the reservation refund after a failed aggregation.
const refundTimeout = 5 * time.Second

// QueryParams is the raw, unvalidated query as received over the wire.
type QueryParams struct {
	Metric      string    `json:"metric"`
	Region      string    `json:"region"`
	Sector      string    `json:"sector"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Granularity string    `json:"granularity"`
	DPEpsilon   float64   `json:"dp_epsilon"`
}

// Result pairs an insight with the budget state after its reservation.
type Result struct {
	Insight aggregator.Insight `json:"data"`
	Budget  budget.Snapshot    `json:"budget_status"`
}

// Options wires the pipeline's collaborators.
type Options struct {
	Log        *logger.Logger
	Auth       *auth.Service
	Limiter    ratelimit.Limiter
	Ledger     budget.Ledger
	Aggregator *aggregator.Aggregator
	// StoreTimeout bounds the aggregation call. Zero selects the default.
	StoreTimeout time.Duration
}

// Service answers authenticated insight queries.
type Service struct {
	log          *logger.Logger
	auth         *auth.Service
	limiter      ratelimit.Limiter
	ledger       budget.Ledger
	agg          *aggregator.Aggregator
	storeTimeout time.Duration
	now          func() time.Time
}

func NewService(opt Options) (*Service, error) {
	if opt.Log == nil || opt.Auth == nil || opt.Limiter == nil || opt.Ledger == nil || opt.Aggregator == nil {
		return nil, fmt.Errorf("insights: all collaborators are required")
	}
	timeout := opt.StoreTimeout
	if timeout == 0 {
		timeout = defaultStoreTimeout
	}
	return &Service{
		log:          opt.Log.With("service", "Insights"),
		auth:         opt.Auth,
		limiter:      opt.Limiter,
		ledger:       opt.Ledger,
		agg:          opt.Aggregator,
		storeTimeout: timeout,
		now:          time.Now,
	}, nil
}

// Query runs one insight query end to end. The epsilon reservation happens
// before aggregation and is refunded if aggregation fails, so a failed query
// costs the institution nothing.
func (s *Service) Query(ctx context.Context, keyID uuid.UUID, p QueryParams) (Result, error) {
	req, err := s.buildRequest(p)
	if err != nil {
		return Result{}, err
	}

	key, err := s.auth.Validate(keyID, string(req.Metric))
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	if err := s.limiter.Allow(ctx, keyID, now, key.RateLimitPerDay); err != nil {
		return Result{}, err
	}

	snap, err := s.ledger.Reserve(ctx, keyID, now, req.DPEpsilon, key.EpsilonBudgetPerDay)
	if err != nil {
		return Result{}, err
	}

	aggCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	insight, err := s.agg.Aggregate(aggCtx, req)
	if err != nil {
		// The refund must survive a canceled request context, or a
		// disconnecting client leaks its reservation until the ledger TTL.
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
		defer relCancel()
		if relErr := s.ledger.Release(relCtx, keyID, now, req.DPEpsilon); relErr != nil {
			s.log.Error("failed to refund epsilon reservation",
				"institution_key_id", keyID,
				"epsilon", req.DPEpsilon,
				"error", relErr)
		}
		return Result{}, err
	}

	s.log.Info("insight served",
		"institution", key.InstitutionName,
		"metric", req.Metric,
		"epsilon", req.DPEpsilon,
		"epsilon_remaining", snap.RemainingEpsilon)
	return Result{Insight: insight, Budget: snap}, nil
}

// BudgetStatus reports the caller's current-day consumption without counting
// as a query.
func (s *Service) BudgetStatus(ctx context.Context, keyID uuid.UUID) (budget.Snapshot, error) {
	key, err := s.auth.Lookup(keyID)
	if err != nil {
		return budget.Snapshot{}, err
	}
	return s.ledger.Snapshot(ctx, keyID, s.now(), key.EpsilonBudgetPerDay)
}

func (s *Service) buildRequest(p QueryParams) (aggregator.Request, error) {
	metric, ok := aggregator.ToMetric(p.Metric)
	if !ok {
		return aggregator.Request{}, fmt.Errorf("%w: %q", aggregator.ErrUnsupportedMetric, p.Metric)
	}
	if metric == aggregator.MetricLogisticsBottleneck && p.Region == "" {
		return aggregator.Request{}, aggregator.ErrMissingRegion
	}

	epsilon := p.DPEpsilon
	if epsilon == 0 {
		epsilon = DefaultEpsilon
	}
	if err := checks.CheckEpsilonRange(epsilon, MinEpsilon, MaxEpsilon); err != nil {
		return aggregator.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if p.PeriodStart.IsZero() || p.PeriodEnd.IsZero() {
		return aggregator.Request{}, fmt.Errorf("%w: period_start and period_end are required", ErrInvalidRequest)
	}
	if !p.PeriodStart.Before(p.PeriodEnd) {
		return aggregator.Request{}, fmt.Errorf("%w: period_start must precede period_end", ErrInvalidRequest)
	}

	granName := p.Granularity
	if granName == "" {
		granName = string(featurestore.Daily)
	}
	gran, ok := featurestore.ToGranularity(granName)
	if !ok {
		return aggregator.Request{}, fmt.Errorf("%w: unknown granularity %q", ErrInvalidRequest, p.Granularity)
	}

	return aggregator.Request{
		Metric:      metric,
		Region:      p.Region,
		Sector:      p.Sector,
		PeriodStart: p.PeriodStart,
		PeriodEnd:   p.PeriodEnd,
		Granularity: gran,
		DPEpsilon:   epsilon,
	}, nil
}
