package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lydianiq/civicgrid/aggregator"
	"github.com/lydianiq/civicgrid/featurestore"
	"github.com/lydianiq/civicgrid/internal/auth"
	"github.com/lydianiq/civicgrid/internal/budget"
	"github.com/lydianiq/civicgrid/internal/insights"
	"github.com/lydianiq/civicgrid/internal/platform/apierr"
	"github.com/lydianiq/civicgrid/internal/ratelimit"
)

// classify maps pipeline errors onto HTTP statuses and stable machine codes.
func classify(err error) *apierr.Error {
	switch {
	case errors.Is(err, insights.ErrInvalidRequest):
		return apierr.New(http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, aggregator.ErrUnsupportedMetric):
		return apierr.New(http.StatusBadRequest, "unsupported_metric", err)
	case errors.Is(err, aggregator.ErrMissingRegion):
		return apierr.New(http.StatusBadRequest, "missing_region", err)
	case errors.Is(err, auth.ErrInvalidKey):
		return apierr.New(http.StatusUnauthorized, "invalid_key", err)
	case errors.Is(err, auth.ErrKeyExpired):
		return apierr.New(http.StatusForbidden, "key_expired", err)
	case errors.Is(err, auth.ErrMetricNotAllowed):
		return apierr.New(http.StatusForbidden, "metric_not_allowed", err)
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return apierr.New(http.StatusTooManyRequests, "rate_limit_exceeded", err)
	case errors.Is(err, budget.ErrBudgetExceeded):
		return apierr.New(http.StatusTooManyRequests, "budget_exceeded", err)
	case errors.Is(err, featurestore.ErrUnavailable):
		return apierr.New(http.StatusServiceUnavailable, "feature_store_unavailable", err)
	}
	return apierr.New(http.StatusInternalServerError, "internal", err)
}

func renderError(c *gin.Context, err error) *apierr.Error {
	apiErr := classify(err)
	message := apiErr.Error()
	if apiErr.Status == http.StatusInternalServerError {
		message = "internal server error"
	}
	c.JSON(apiErr.Status, gin.H{
		"error": gin.H{"code": apiErr.Code, "message": message},
	})
	return apiErr
}
