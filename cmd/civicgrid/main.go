// Command civicgrid runs the civic aggregation engine: an HTTP service that
// answers institutional queries over commerce and logistics aggregates with
// differential-privacy noise, k-anonymity suppression, and per-institution
// daily quotas.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/lydianiq/civicgrid/aggregator"
	"github.com/lydianiq/civicgrid/featurestore"
	"github.com/lydianiq/civicgrid/internal/auth"
	"github.com/lydianiq/civicgrid/internal/budget"
	"github.com/lydianiq/civicgrid/internal/insights"
	"github.com/lydianiq/civicgrid/internal/platform/envutil"
	"github.com/lydianiq/civicgrid/internal/platform/logger"
	"github.com/lydianiq/civicgrid/internal/ratelimit"
	"github.com/lydianiq/civicgrid/internal/server"
	"github.com/lydianiq/civicgrid/kanon"
	"github.com/lydianiq/civicgrid/noise"
)

func main() {
	var (
		listenAddr   = flag.String("listen", envutil.String("CIVICGRID_LISTEN", ":8080"), "HTTP listen address")
		mode         = flag.String("mode", envutil.String("CIVICGRID_MODE", gin.ReleaseMode), "gin mode (release or debug)")
		storeBackend = flag.String("store", envutil.String("CIVICGRID_STORE", "memory"), "feature store backend (memory or postgres)")
		postgresDSN  = flag.String("postgres-dsn", envutil.String("CIVICGRID_POSTGRES_DSN", ""), "postgres connection string for the feature store")
		quotaBackend = flag.String("quota", envutil.String("CIVICGRID_QUOTA", "memory"), "quota backend (memory or redis)")
		redisAddr    = flag.String("redis-addr", envutil.String("CIVICGRID_REDIS_ADDR", "localhost:6379"), "redis address for the quota backend")
		adminSecret  = flag.String("admin-secret", envutil.String("CIVICGRID_ADMIN_SECRET", ""), "shared secret for the admin endpoints (empty disables them)")
		mechanism    = flag.String("mechanism", envutil.String("CIVICGRID_MECHANISM", "laplace"), "noise mechanism (laplace or gaussian)")
		delta        = flag.Float64("delta", envutil.Float("CIVICGRID_DELTA", 1e-5), "delta for the gaussian mechanism")
		k            = flag.Int("k", envutil.Int("CIVICGRID_K", kanon.DefaultK), "k-anonymity threshold")
		storeTimeout = flag.Duration("store-timeout", 5*time.Second, "feature store query timeout")
	)
	flag.Parse()

	logMode := "development"
	if *mode == gin.ReleaseMode {
		logMode = "production"
	}
	log, err := logger.New(logMode)
	if err != nil {
		os.Stderr.WriteString("logger init: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, *storeBackend, *postgresDSN)
	if err != nil {
		log.Fatal("feature store init failed", "backend", *storeBackend, "error", err)
	}

	mech, err := noise.ToMechanism(*mechanism)
	if err != nil {
		log.Fatal("mechanism init failed", "error", err)
	}
	agg, err := aggregator.New(&aggregator.Options{
		Store:      store,
		KAnonymity: kanon.Config{K: *k, SuppressBelowK: true},
		Mechanism:  mech,
		Delta:      *delta,
	})
	if err != nil {
		log.Fatal("aggregator init failed", "error", err)
	}

	ledger, limiter, err := openQuota(ctx, *quotaBackend, *redisAddr)
	if err != nil {
		log.Fatal("quota backend init failed", "backend", *quotaBackend, "error", err)
	}

	authSvc := auth.NewService(log)
	insightsSvc, err := insights.NewService(insights.Options{
		Log:          log,
		Auth:         authSvc,
		Limiter:      limiter,
		Ledger:       ledger,
		Aggregator:   agg,
		StoreTimeout: *storeTimeout,
	})
	if err != nil {
		log.Fatal("insights service init failed", "error", err)
	}

	cfg := server.Config{ListenAddr: *listenAddr, AdminSecret: *adminSecret, Mode: *mode}
	srv := server.New(cfg, server.NewRouter(cfg, log, insightsSvc, authSvc))

	go func() {
		log.Info("listening",
			"addr", *listenAddr,
			"store", *storeBackend,
			"quota", *quotaBackend,
			"mechanism", mech,
			"k", *k)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
}

func openStore(ctx context.Context, backend, dsn string) (featurestore.Store, error) {
	switch backend {
	case "memory":
		return featurestore.NewMemoryStore(), nil
	case "postgres":
		if dsn == "" {
			return nil, errors.New("postgres backend requires a dsn")
		}
		return featurestore.OpenPostgresStore(ctx, dsn)
	}
	return nil, errors.New("unknown store backend " + backend)
}

func openQuota(ctx context.Context, backend, redisAddr string) (budget.Ledger, ratelimit.Limiter, error) {
	switch backend {
	case "memory":
		return budget.NewMemoryLedger(), ratelimit.NewMemoryLimiter(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		return budget.NewRedisLedger(rdb), ratelimit.NewRedisLimiter(rdb), nil
	}
	return nil, nil, errors.New("unknown quota backend " + backend)
}
