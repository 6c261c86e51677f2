package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RequestRecorder interface {
	RecordRequest(method, route string, statusCode int, duration time.Duration)
}

type RouterConfig struct {
	AllowedOrigins []string
	// Timeout bounds non-scrape requests. Scrape runs are bounded by the
	// pipeline's own per-request timeouts.
	Timeout time.Duration
	// Metrics is served on MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	Recorder    RequestRecorder
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Recorder != nil {
		r.Use(instrument(cfg.Recorder))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Timeout))

		r.Get("/materials", h.ListMaterials)
		r.Get("/materials/{category}", h.MaterialsByCategory)
		r.Get("/materials/supplier/{supplier}", h.MaterialsBySupplier)
		r.Get("/categories", h.Categories)
		r.Get("/suppliers", h.Suppliers)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{jobID}", h.GetJob)
	})

	r.Post("/scrape", h.Scrape)

	return r
}

// instrument records every request under its route pattern, not its path.
func instrument(rec RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			rec.RecordRequest(r.Method, route, status, time.Since(start))
		})
	}
}
