package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicgrid_queries_total",
		Help: "Insight queries by metric and outcome code.",
	}, []string{"metric", "code"})

	epsilonConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicgrid_epsilon_consumed_total",
		Help: "Privacy budget consumed by served insights, by metric.",
	}, []string{"metric"})

	suppressedInsightsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicgrid_suppressed_insights_total",
		Help: "Insights fully suppressed by the k-anonymity threshold, by metric.",
	}, []string{"metric"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "civicgrid_query_duration_seconds",
		Help:    "End-to-end insight query latency.",
		Buckets: prometheus.DefBuckets,
	})
)
