package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/haukened/sg-block/internal/block/common/log"
	"github.com/haukened/sg-block/internal/block/common/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AdminTokenHash is the bcrypt hash required on mutating requests.
	AdminTokenHash string
	RateRPS        float64
	RateBurst      int
	// RateClients bounds the number of tracked clients.
	RateClients int
	Logger      log.Logger
}

// NewRouter mounts the API, health and metrics endpoints.
//
//	GET  /healthz
//	GET  /metrics
//	GET  /api/v1/categories?url=
//	POST /api/v1/block          url, category (or file)
//	GET  /api/v1/history?limit=
func NewRouter(svc Blocker, opts RouterOptions) (http.Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	clients := opts.RateClients
	if clients < 1 {
		clients = 1024
	}
	limiter, err := newRateLimiter(opts.RateRPS, opts.RateBurst, clients)
	if err != nil {
		return nil, err
	}
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog(logger))
	r.Use(recoverer(logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.middleware)
		r.Use(adminGuard(opts.AdminTokenHash, logger))
		r.Get("/categories", h.categories)
		r.Post("/block", h.block)
		r.Get("/history", h.history)
	})

	logger.Debug(map[string]any{
		"read_only":  opts.AdminTokenHash == "",
		"rate_rps":   opts.RateRPS,
		"rate_burst": opts.RateBurst,
	}, "http_router_ready")
	return r, nil
}
