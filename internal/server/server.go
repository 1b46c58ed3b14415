// Package server assembles the gin router and the HTTP server around it.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lydianiq/civicgrid/internal/auth"
	"github.com/lydianiq/civicgrid/internal/handlers"
	"github.com/lydianiq/civicgrid/internal/insights"
	"github.com/lydianiq/civicgrid/internal/middleware"
	"github.com/lydianiq/civicgrid/internal/platform/logger"
)

// Config carries the deployment knobs of the HTTP surface.
type Config struct {
	ListenAddr string
	// AdminSecret gates the registry endpoints; empty disables them.
	AdminSecret string
	// Mode is a gin mode name, usually release or debug.
	Mode string
}

// NewRouter wires every route of the service.
func NewRouter(cfg Config, log *logger.Logger, insightsSvc *insights.Service, authSvc *auth.Service) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Content-Type", middleware.HeaderInstitutionKey, middleware.HeaderAdminSecret},
		MaxAge:       12 * time.Hour,
	}))

	r.GET("/healthz", handlers.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ih := handlers.NewInsightsHandler(log, insightsSvc)
	v1 := r.Group("/v1", middleware.InstitutionKey())
	v1.POST("/insights", ih.Query)
	v1.GET("/budget", ih.BudgetStatus)

	if cfg.AdminSecret != "" {
		ah := handlers.NewAdminHandler(log, authSvc)
		admin := r.Group("/v1/admin", middleware.AdminSecret(cfg.AdminSecret))
		admin.POST("/institutions", ah.Register)
		admin.DELETE("/institutions/:key_id", ah.Revoke)
	}

	return r
}

// New builds the http.Server for the router.
func New(cfg Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
