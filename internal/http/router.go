package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Checkout           *CheckoutHandler
	JWTSecret          []byte
	AllowedOrigins     []string
	BeginRatePerMinute int
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	// Metrics wraps every route; MetricsHandler serves /metrics. Both are optional.
	Metrics        func(http.Handler) http.Handler
	MetricsHandler http.Handler
	Health         func(r *http.Request) error
}

// NewRouter builds the storefront-facing API. CORS and tracing wrap the router so preflight
// requests never reach auth.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if cfg.MaxRequestBodySize > 0 {
		r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	}
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics)
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(req); err != nil {
				respondError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	limiter := NewUserRateLimiter(cfg.BeginRatePerMinute)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))
		r.Route("/checkout", func(r chi.Router) {
			r.With(limiter.Limit).Post("/begin", cfg.Checkout.Begin)
			r.Post("/finalize", cfg.Checkout.Finalize)
		})
		r.Get("/orders/{order_id}", cfg.Checkout.GetOrder)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	})
	return otelhttp.NewHandler(c.Handler(r), "checkout-service")
}
