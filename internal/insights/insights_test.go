package insights

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lydianiq/civicgrid/aggregator"
	"github.com/lydianiq/civicgrid/featurestore"
	"github.com/lydianiq/civicgrid/internal/auth"
	"github.com/lydianiq/civicgrid/internal/budget"
	"github.com/lydianiq/civicgrid/internal/platform/logger"
	"github.com/lydianiq/civicgrid/internal/ratelimit"
	"github.com/lydianiq/civicgrid/noise"
)

var (
	periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
)

// passthrough keeps noised values deterministic for pipeline tests.
type passthrough struct{}

func (passthrough) Apply(value float64, p noise.Parameters) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return value, nil
}

// failingStore simulates a feature-store outage.
type failingStore struct{ featurestore.Store }

func (failingStore) ReturnCounts(context.Context, featurestore.Query) (featurestore.ReturnCounts, error) {
	return featurestore.ReturnCounts{}, featurestore.ErrUnavailable
}

type fixture struct {
	svc    *Service
	auth   *auth.Service
	ledger *budget.MemoryLedger
	keyID  uuid.UUID
	key    auth.InstitutionKey
}

func newFixture(t *testing.T, store featurestore.Store, params auth.RegistrationParams) *fixture {
	t.Helper()
	log := logger.NewNop()
	authSvc := auth.NewService(log)
	key, err := authSvc.Register(params)
	if err != nil {
		t.Fatalf("Register: unexpected error %v", err)
	}
	agg, err := aggregator.New(&aggregator.Options{Store: store, Noise: passthrough{}})
	if err != nil {
		t.Fatalf("aggregator.New: unexpected error %v", err)
	}
	ledger := budget.NewMemoryLedger()
	svc, err := NewService(Options{
		Log:        log,
		Auth:       authSvc,
		Limiter:    ratelimit.NewMemoryLimiter(),
		Ledger:     ledger,
		Aggregator: agg,
	})
	if err != nil {
		t.Fatalf("NewService: unexpected error %v", err)
	}
	return &fixture{svc: svc, auth: authSvc, ledger: ledger, keyID: key.KeyID, key: key}
}

func defaultParams() auth.RegistrationParams {
	return auth.RegistrationParams{
		InstitutionName:     "Bureau of Trade Statistics",
		InstitutionType:     auth.TypeGovernment,
		AllowedMetrics:      []string{auth.AllMetrics},
		RateLimitPerDay:     100,
		EpsilonBudgetPerDay: 10.0,
	}
}

func seededStore() *featurestore.MemoryStore {
	store := featurestore.NewMemoryStore()
	store.SeedReturnCounts("metro-north", "apparel", featurestore.ReturnCounts{Returns: 120, TotalOrders: 1200})
	return store
}

func returnRateQuery(epsilon float64) QueryParams {
	return QueryParams{
		Metric:      "return_rate",
		Region:      "metro-north",
		Sector:      "apparel",
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		DPEpsilon:   epsilon,
	}
}

func TestQueryHappyPathChargesBudget(t *testing.T) {
	f := newFixture(t, seededStore(), defaultParams())

	res, err := f.svc.Query(context.Background(), f.keyID, returnRateQuery(0.5))
	if err != nil {
		t.Fatalf("Query: unexpected error %v", err)
	}
	if res.Insight.ReturnRate == nil {
		t.Fatal("Query: missing return-rate payload")
	}
	if got := res.Insight.ReturnRate.ReturnRatePercent; math.Abs(got-10.0) > 1e-9 {
		t.Errorf("ReturnRatePercent = %f, want 10.0 with passthrough noise", got)
	}
	if math.Abs(res.Budget.EpsilonConsumed-0.5) > 1e-9 {
		t.Errorf("EpsilonConsumed = %f, want 0.5", res.Budget.EpsilonConsumed)
	}
	if math.Abs(res.Budget.RemainingEpsilon-9.5) > 1e-9 {
		t.Errorf("RemainingEpsilon = %f, want 9.5", res.Budget.RemainingEpsilon)
	}
	if res.Budget.QueriesCount != 1 {
		t.Errorf("QueriesCount = %d, want 1", res.Budget.QueriesCount)
	}
}

func TestQueryDefaultsEpsilonWhenOmitted(t *testing.T) {
	f := newFixture(t, seededStore(), defaultParams())

	res, err := f.svc.Query(context.Background(), f.keyID, returnRateQuery(0))
	if err != nil {
		t.Fatalf("Query: unexpected error %v", err)
	}
	if math.Abs(res.Budget.EpsilonConsumed-DefaultEpsilon) > 1e-9 {
		t.Errorf("EpsilonConsumed = %f, want the default %f", res.Budget.EpsilonConsumed, DefaultEpsilon)
	}
	if res.Insight.DP == nil || res.Insight.DP.Epsilon != DefaultEpsilon {
		t.Errorf("insight DP parameters = %+v, want epsilon %f", res.Insight.DP, DefaultEpsilon)
	}
}

func TestQueryRejectsEpsilonOutOfRange(t *testing.T) {
	f := newFixture(t, seededStore(), defaultParams())
	for _, epsilon := range []float64{0.01, 6.0, -1.0} {
		_, err := f.svc.Query(context.Background(), f.keyID, returnRateQuery(epsilon))
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Query(epsilon=%f): got %v, want ErrInvalidRequest", epsilon, err)
		}
	}
}

func TestQueryRejectsInvalidPeriod(t *testing.T) {
	f := newFixture(t, seededStore(), defaultParams())

	p := returnRateQuery(0.5)
	p.PeriodStart, p.PeriodEnd = p.PeriodEnd, p.PeriodStart
	if _, err := f.svc.Query(context.Background(), f.keyID, p); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("swapped period: got %v, want ErrInvalidRequest", err)
	}

	p = returnRateQuery(0.5)
	p.PeriodEnd = time.Time{}
	if _, err := f.svc.Query(context.Background(), f.keyID, p); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing period_end: got %v, want ErrInvalidRequest", err)
	}
}

func TestQueryRejectsUnknownMetricAndGranularity(t *testing.T) {
	f := newFixture(t, seededStore(), defaultParams())

	p := returnRateQuery(0.5)
	p.Metric = "median_income"
	if _, err := f.svc.Query(context.Background(), f.keyID, p); !errors.Is(err, aggregator.ErrUnsupportedMetric) {
		t.Errorf("unknown metric: got %v, want ErrUnsupportedMetric", err)
	}

	p = returnRateQuery(0.5)
	p.Granularity = "hourly"
	if _, err := f.svc.Query(context.Background(), f.keyID, p); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("unknown granularity: got %v, want ErrInvalidRequest", err)
	}
}

func TestQueryRejectsLogisticsWithoutRegionBeforeQuotas(t *testing.T) {
	f := newFixture(t, seededStore(), defaultParams())

	p := returnRateQuery(0.5)
	p.Metric = "logistics_bottleneck"
	p.Region = ""
	if _, err := f.svc.Query(context.Background(), f.keyID, p); !errors.Is(err, aggregator.ErrMissingRegion) {
		t.Fatalf("got %v, want ErrMissingRegion", err)
	}
	snap, err := f.ledger.Snapshot(context.Background(), f.keyID, time.Now(), f.key.EpsilonBudgetPerDay)
	if err != nil {
		t.Fatalf("Snapshot: unexpected error %v", err)
	}
	if snap.EpsilonConsumed != 0 {
		t.Errorf("EpsilonConsumed = %f after rejected request, want 0", snap.EpsilonConsumed)
	}
}

func TestQueryMetricNotAllowedLeavesQuotasUntouched(t *testing.T) {
	params := defaultParams()
	params.AllowedMetrics = []string{"price_trend"}
	f := newFixture(t, seededStore(), params)

	_, err := f.svc.Query(context.Background(), f.keyID, returnRateQuery(0.5))
	if !errors.Is(err, auth.ErrMetricNotAllowed) {
		t.Fatalf("got %v, want ErrMetricNotAllowed", err)
	}
	snap, err := f.ledger.Snapshot(context.Background(), f.keyID, time.Now(), f.key.EpsilonBudgetPerDay)
	if err != nil {
		t.Fatalf("Snapshot: unexpected error %v", err)
	}
	if snap.EpsilonConsumed != 0 || snap.QueriesCount != 0 {
		t.Errorf("ledger touched by rejected request: %+v", snap)
	}
}

func TestQueryUnknownKeyRejected(t *testing.T) {
	f := newFixture(t, seededStore(), defaultParams())

	if _, err := f.svc.Query(context.Background(), uuid.New(), returnRateQuery(0.5)); !errors.Is(err, auth.ErrInvalidKey) {
		t.Errorf("got %v, want ErrInvalidKey", err)
	}
}

func TestQueryBudgetExhaustionRejectsFifthQuery(t *testing.T) {
	params := defaultParams()
	params.EpsilonBudgetPerDay = 2.0
	f := newFixture(t, seededStore(), params)

	for i := 0; i < 4; i++ {
		if _, err := f.svc.Query(context.Background(), f.keyID, returnRateQuery(0.5)); err != nil {
			t.Fatalf("Query #%d: unexpected error %v", i+1, err)
		}
	}
	if _, err := f.svc.Query(context.Background(), f.keyID, returnRateQuery(0.5)); !errors.Is(err, budget.ErrBudgetExceeded) {
		t.Errorf("Query #5: got %v, want ErrBudgetExceeded", err)
	}
}

func TestQueryRateLimitRejectsOverQuota(t *testing.T) {
	params := defaultParams()
	params.RateLimitPerDay = 2
	f := newFixture(t, seededStore(), params)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Query(context.Background(), f.keyID, returnRateQuery(0.5)); err != nil {
			t.Fatalf("Query #%d: unexpected error %v", i+1, err)
		}
	}
	if _, err := f.svc.Query(context.Background(), f.keyID, returnRateQuery(0.5)); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Errorf("Query #3: got %v, want ErrRateLimitExceeded", err)
	}
}

func TestQueryRefundsBudgetWhenStoreFails(t *testing.T) {
	f := newFixture(t, failingStore{Store: seededStore()}, defaultParams())

	_, err := f.svc.Query(context.Background(), f.keyID, returnRateQuery(0.5))
	if !errors.Is(err, featurestore.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	snap, err := f.ledger.Snapshot(context.Background(), f.keyID, time.Now(), f.key.EpsilonBudgetPerDay)
	if err != nil {
		t.Fatalf("Snapshot: unexpected error %v", err)
	}
	if snap.EpsilonConsumed != 0 {
		t.Errorf("EpsilonConsumed = %f after refund, want 0", snap.EpsilonConsumed)
	}
}

// releaseRecorder captures the context the refund runs on.
type releaseRecorder struct {
	*budget.MemoryLedger
	released      bool
	releaseCtxErr error
}

func (r *releaseRecorder) Release(ctx context.Context, keyID uuid.UUID, day time.Time, epsilon float64) error {
	r.released = true
	r.releaseCtxErr = ctx.Err()
	return r.MemoryLedger.Release(ctx, keyID, day, epsilon)
}

func TestQueryRefundSurvivesCanceledRequestContext(t *testing.T) {
	log := logger.NewNop()
	authSvc := auth.NewService(log)
	key, err := authSvc.Register(defaultParams())
	if err != nil {
		t.Fatalf("Register: unexpected error %v", err)
	}
	agg, err := aggregator.New(&aggregator.Options{Store: failingStore{Store: seededStore()}, Noise: passthrough{}})
	if err != nil {
		t.Fatalf("aggregator.New: unexpected error %v", err)
	}
	ledger := &releaseRecorder{MemoryLedger: budget.NewMemoryLedger()}
	svc, err := NewService(Options{
		Log:        log,
		Auth:       authSvc,
		Limiter:    ratelimit.NewMemoryLimiter(),
		Ledger:     ledger,
		Aggregator: agg,
	})
	if err != nil {
		t.Fatalf("NewService: unexpected error %v", err)
	}

	// The client disconnects while the store is failing.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Query(ctx, key.KeyID, returnRateQuery(0.5)); err == nil {
		t.Fatal("Query succeeded against a failing store")
	}
	if !ledger.released {
		t.Fatal("reservation was not refunded")
	}
	if ledger.releaseCtxErr != nil {
		t.Errorf("refund ran on a dead context: %v", ledger.releaseCtxErr)
	}
	snap, err := ledger.Snapshot(context.Background(), key.KeyID, time.Now(), key.EpsilonBudgetPerDay)
	if err != nil {
		t.Fatalf("Snapshot: unexpected error %v", err)
	}
	if snap.EpsilonConsumed != 0 {
		t.Errorf("EpsilonConsumed = %f after refund, want 0", snap.EpsilonConsumed)
	}
}

func TestBudgetStatusReportsWithoutCharging(t *testing.T) {
	f := newFixture(t, seededStore(), defaultParams())

	if _, err := f.svc.Query(context.Background(), f.keyID, returnRateQuery(1.5)); err != nil {
		t.Fatalf("Query: unexpected error %v", err)
	}
	snap, err := f.svc.BudgetStatus(context.Background(), f.keyID)
	if err != nil {
		t.Fatalf("BudgetStatus: unexpected error %v", err)
	}
	if math.Abs(snap.EpsilonConsumed-1.5) > 1e-9 {
		t.Errorf("EpsilonConsumed = %f, want 1.5", snap.EpsilonConsumed)
	}
	again, err := f.svc.BudgetStatus(context.Background(), f.keyID)
	if err != nil {
		t.Fatalf("BudgetStatus: unexpected error %v", err)
	}
	if again.EpsilonConsumed != snap.EpsilonConsumed || again.QueriesCount != snap.QueriesCount {
		t.Errorf("BudgetStatus mutated state: %+v then %+v", snap, again)
	}
}
