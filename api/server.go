/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog access log (status, bytes, duration, request id)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/forecast/*       Products, single-cell edits, reorders, reverts
  /api/bulk/*           Bulk edit and bulk revert
  /api/selection        Selection state
  /api/outbox/*         Dirty variants and manual retry
  /metrics              Prometheus

SECURITY NOTE:
  No authentication middleware. The upstream token is held server-side and
  never forwarded from clients.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterOptions struct {
	AllowedOrigins []string
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = defaultOrigins
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/forecast", func(r chi.Router) {
			r.Get("/", h.GetForecast)
			r.Post("/fetch", h.Fetch)

			r.Route("/{variantId}", func(r chi.Router) {
				r.Get("/", h.GetVariant)
				r.Post("/growth-rate", h.EditGrowthRate)
				r.Post("/expected-sales", h.EditExpectedSales)
				r.Post("/min-stock", h.EditMinStock)
				r.Post("/delivery-time", h.ChangeDeliveryTime)
				r.Post("/reorders", h.AddReorder)
				r.Put("/reorders/{year}/{week}/{index}", h.SetReorderStatus)
				r.Delete("/reorders/{year}/{week}/{index}", h.RemoveReorder)
				r.Post("/revert/{field}", h.Revert)
			})
		})

		r.Route("/bulk", func(r chi.Router) {
			r.Post("/edit", h.BulkEdit)
			r.Post("/revert", h.BulkRevert)
		})

		r.Get("/ledgers/{variantId}", h.GetLedgers)

		r.Route("/selection", func(r chi.Router) {
			r.Get("/", h.GetSelection)
			r.Post("/", h.UpdateSelection)
			r.Delete("/", h.ClearSelection)
		})

		r.Get("/summary", h.GetSummary)
		r.Get("/calendar/{year}", h.GetCalendar)
		r.Get("/notifications", h.GetNotifications)
		r.Get("/audit", h.GetAudit)

		r.Route("/outbox", func(r chi.Router) {
			r.Get("/", h.GetOutbox)
			r.Post("/retry", h.RetryOutbox)
		})
	})

	return r
}

// requestLogger writes one zerolog line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				ev := log.Info()
				if status >= http.StatusInternalServerError {
					ev = log.Error()
				}
				ev.Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
