package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lydianiq/civicgrid/internal/auth"
	"github.com/lydianiq/civicgrid/internal/platform/logger"
)

// AdminHandler serves the institution registry behind the admin secret.
type AdminHandler struct {
	log  *logger.Logger
	auth *auth.Service
}

func NewAdminHandler(log *logger.Logger, authSvc *auth.Service) *AdminHandler {
	return &AdminHandler{log: log.With("handler", "Admin"), auth: authSvc}
}

type registerRequest struct {
	InstitutionName     string     `json:"institution_name"`
	InstitutionType     string     `json:"institution_type"`
	AllowedMetrics      []string   `json:"allowed_metrics"`
	RateLimitPerDay     int        `json:"rate_limit_per_day"`
	EpsilonBudgetPerDay float64    `json:"epsilon_budget_per_day"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

// Register handles POST /v1/admin/institutions.
func (h *AdminHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_request", "message": err.Error()},
		})
		return
	}
	key, err := h.auth.Register(auth.RegistrationParams{
		InstitutionName:     req.InstitutionName,
		InstitutionType:     auth.InstitutionType(req.InstitutionType),
		AllowedMetrics:      req.AllowedMetrics,
		RateLimitPerDay:     req.RateLimitPerDay,
		EpsilonBudgetPerDay: req.EpsilonBudgetPerDay,
		ExpiresAt:           req.ExpiresAt,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_registration", "message": err.Error()},
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": key})
}

// Revoke handles DELETE /v1/admin/institutions/:key_id.
func (h *AdminHandler) Revoke(c *gin.Context) {
	keyID, err := uuid.Parse(c.Param("key_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_request", "message": "malformed key id"},
		})
		return
	}
	if err := h.auth.Revoke(keyID); err != nil {
		if errors.Is(err, auth.ErrInvalidKey) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{"code": "unknown_key", "message": "no such institution key"},
			})
			return
		}
		renderError(c, err)
		return
	}
	h.log.Info("institution key revoked", "institution_key_id", keyID)
	c.Status(http.StatusNoContent)
}

// Health handles GET /healthz.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
