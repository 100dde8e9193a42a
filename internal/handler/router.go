// Package handler provides the HTTP API and dashboard for the user directory.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/metrics"
	"github.com/prn-tf/userdir/internal/service"
)

// Router handles HTTP routing for the API and the dashboard.
type Router struct {
	userHandler       *UserHandler
	calculatorHandler *CalculatorHandler
	dashboardHandler  *DashboardHandler
	monitor           *service.ActivityMonitor
	metrics           *metrics.Metrics
	metricsPath       string
	maxBodySize       int64
	healthCheck       func(ctx context.Context) error
	logger            zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	UserHandler       *UserHandler
	CalculatorHandler *CalculatorHandler

	// DashboardHandler is optional.
	DashboardHandler *DashboardHandler

	// Monitor is optional; when set GET /api/monitor reports the last sweep.
	Monitor *service.ActivityMonitor

	// Metrics is optional; when set requests are measured and MetricsPath is served.
	Metrics     *metrics.Metrics
	MetricsPath string

	// MaxBodySize limits API request bodies when positive.
	MaxBodySize int64

	// HealthCheck is optional; a non-nil error makes /health report 503.
	HealthCheck func(ctx context.Context) error

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	metricsPath := config.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return &Router{
		userHandler:       config.UserHandler,
		calculatorHandler: config.CalculatorHandler,
		dashboardHandler:  config.DashboardHandler,
		monitor:           config.Monitor,
		metrics:           config.Metrics,
		metricsPath:       metricsPath,
		maxBodySize:       config.MaxBodySize,
		healthCheck:       config.HealthCheck,
		logger:            config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(rt.logger, rt.metrics))

	// Health check
	r.Get("/health", rt.handleHealth)

	if rt.metrics != nil {
		r.Method(http.MethodGet, rt.metricsPath, rt.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		if rt.maxBodySize > 0 {
			r.Use(middleware.RequestSize(rt.maxBodySize))
		}
		rt.userHandler.RegisterRoutes(r)
		rt.calculatorHandler.RegisterRoutes(r)
		if rt.monitor != nil {
			r.Get("/monitor", rt.handleMonitor)
		}
	})

	if rt.dashboardHandler != nil {
		rt.dashboardHandler.RegisterRoutes(r)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/dashboard/users", http.StatusFound)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, APIError{
			Code:           "NotFound",
			Message:        "The requested resource does not exist.",
			HTTPStatusCode: http.StatusNotFound,
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, APIError{
			Code:           "MethodNotAllowed",
			Message:        "The specified method is not allowed against this resource.",
			HTTPStatusCode: http.StatusMethodNotAllowed,
		})
	})

	return r
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rt.healthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.healthCheck(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleMonitor reports the most recent activity sweep.
func (rt *Router) handleMonitor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.monitor.LastResult())
}
