// Package httpapi exposes the service over HTTP: the Stripe webhook, manual
// order publishing and read-only order lookups.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/nsridhar76/go-checkoutsvc/internal/messaging"
	"github.com/nsridhar76/go-checkoutsvc/internal/orders"
)

// maxBodyBytes bounds request bodies on the /orders routes.
const maxBodyBytes = 1 << 20

// Config wires the router to its collaborators.
type Config struct {
	// Webhook handles POST /webhooks/stripe. It reads the raw body itself.
	Webhook http.Handler
	// Publisher receives orders posted to POST /orders.
	Publisher messaging.Publisher
	// Orders serves the lookup routes. When nil they are not mounted.
	Orders orders.Reader
	// AdminSecret enables HS256 bearer auth on /orders when set.
	AdminSecret string
	// OrdersRate limits /orders requests per client IP; zero disables it.
	OrdersRate  rate.Limit
	OrdersBurst int
	Logger      *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Webhook != nil {
		r.Method(http.MethodPost, "/webhooks/stripe", cfg.Webhook)
	}

	h := &orderHandler{publisher: cfg.Publisher, reader: cfg.Orders, log: log}
	r.Route("/orders", func(r chi.Router) {
		if cfg.OrdersRate > 0 {
			r.Use(newIPLimiter(cfg.OrdersRate, cfg.OrdersBurst).middleware)
		}
		if cfg.AdminSecret != "" {
			r.Use(jwtAuth([]byte(cfg.AdminSecret)))
		}
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
				next.ServeHTTP(w, r)
			})
		})

		if cfg.Publisher != nil {
			r.Post("/", h.publish)
		}
		if cfg.Orders != nil {
			r.Get("/", h.list)
			r.Get("/{orderId}", h.get)
		}
	})

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
