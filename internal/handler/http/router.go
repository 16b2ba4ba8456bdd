package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quizhub/accounts/internal/service"
	"github.com/quizhub/accounts/pkg/health"
	"github.com/quizhub/accounts/pkg/middleware"
)

// ServiceName labels HTTP metrics and spans.
const ServiceName = "accounts"

// RouterConfig carries the router's collaborators besides the service.
type RouterConfig struct {
	TokenValidator middleware.TokenValidator
	Health         *health.Handler
	// RateLimiter throttles the registration endpoints. Nil disables it.
	RateLimiter *middleware.RateLimiter
	CORS        middleware.CORSConfig
	// PprofAllowedCIDRs may reach /debug/pprof. Empty blocks everyone.
	PprofAllowedCIDRs []string
}

// NewRouter creates a chi router with all account service routes registered.
func NewRouter(accountService *service.AccountService, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	// Pprof debug endpoints with IP allowlist
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	accountHandler := NewAccountHandler(accountService, logger)

	r.Route("/api/v1/accounts", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Registration endpoints (public)
		r.Group(func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Handler)
			}
			r.Post("/register", accountHandler.Register)
			r.Post("/federated", accountHandler.RegisterFederated)
		})

		// Profile endpoints (own account only)
		r.Route("/{id}/profile", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.TokenValidator))
			r.Use(OwnAccount)

			r.Post("/", accountHandler.RetryProfile)
			r.With(middleware.CacheControl("private, no-store")).Get("/", accountHandler.GetProfile)
		})
	})

	return r
}
