// Package handlers exposes the query pipeline and the administrative
// registry over HTTP.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lydianiq/civicgrid/aggregator"
	"github.com/lydianiq/civicgrid/internal/insights"
	"github.com/lydianiq/civicgrid/internal/middleware"
	"github.com/lydianiq/civicgrid/internal/platform/logger"
)

// InsightsHandler serves the authenticated insight endpoints.
type InsightsHandler struct {
	log *logger.Logger
	svc *insights.Service
}

func NewInsightsHandler(log *logger.Logger, svc *insights.Service) *InsightsHandler {
	return &InsightsHandler{log: log.With("handler", "Insights"), svc: svc}
}

// Query handles POST /v1/insights.
func (h *InsightsHandler) Query(c *gin.Context) {
	keyID, ok := middleware.KeyID(c)
	if !ok {
		renderError(c, insights.ErrInvalidRequest)
		return
	}

	var p insights.QueryParams
	if err := c.ShouldBindJSON(&p); err != nil {
		apiErr := renderError(c, fmt.Errorf("%w: %v", insights.ErrInvalidRequest, err))
		queriesTotal.WithLabelValues(metricLabel(p.Metric), apiErr.Code).Inc()
		return
	}

	start := time.Now()
	res, err := h.svc.Query(c.Request.Context(), keyID, p)
	queryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		apiErr := renderError(c, err)
		queriesTotal.WithLabelValues(metricLabel(p.Metric), apiErr.Code).Inc()
		h.log.Warn("query rejected",
			"metric", p.Metric,
			"code", apiErr.Code,
			"error", err)
		return
	}

	metric := string(res.Insight.Metric)
	queriesTotal.WithLabelValues(metric, "ok").Inc()
	if res.Insight.DP != nil {
		epsilonConsumedTotal.WithLabelValues(metric).Add(res.Insight.DP.Epsilon)
	}
	if insightSuppressed(res.Insight) {
		suppressedInsightsTotal.WithLabelValues(metric).Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"data":          res.Insight,
		"budget_status": res.Budget,
	})
}

// BudgetStatus handles GET /v1/budget.
func (h *InsightsHandler) BudgetStatus(c *gin.Context) {
	keyID, ok := middleware.KeyID(c)
	if !ok {
		renderError(c, insights.ErrInvalidRequest)
		return
	}
	snap, err := h.svc.BudgetStatus(c.Request.Context(), keyID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"budget_status": snap})
}

// metricLabel folds anything that is not a known metric name into a single
// label value. Request strings must never reach the metrics registry: label
// values create time series, and rejection paths see unauthenticated input.
func metricLabel(requested string) string {
	if m, ok := aggregator.ToMetric(requested); ok {
		return string(m)
	}
	return "unknown"
}

func insightSuppressed(in aggregator.Insight) bool {
	switch {
	case in.PriceTrend != nil:
		return in.PriceTrend.Suppressed
	case in.ReturnRate != nil:
		return in.ReturnRate.Suppressed
	case in.LogisticsBottleneck != nil:
		return in.LogisticsBottleneck.Suppressed
	case in.SalesVolume != nil:
		return in.SalesVolume.Suppressed
	}
	return false
}
