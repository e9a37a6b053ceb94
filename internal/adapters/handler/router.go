package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roykane/flower-shop-sub000/internal/core/ports"
)

// RouterOptions wires the HTTP surface
type RouterOptions struct {
	Dashboard      *DashboardHandler
	Realtime       http.HandlerFunc
	Auth           ports.Authenticator
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter creates and configures the HTTP router
func NewRouter(opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := opts.Dashboard

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", h.Health)

	if opts.Realtime != nil {
		r.Get("/ws/chat", opts.Realtime)
	}

	// Staff dashboard
	r.Group(func(r chi.Router) {
		r.Use(RequireStaff(opts.Auth))

		r.Get("/api/status", h.GetStatus)
		r.Get("/api/system/metrics", h.GetSystemMetrics)

		r.Route("/api/chat", func(r chi.Router) {
			r.Get("/stats", h.GetStats)
			r.Get("/conversations", h.ListConversations)
			r.Get("/conversations/{id}", h.GetConversation)
			r.Get("/autoreply", h.GetAutoReply)
			r.Put("/autoreply", h.SetAutoReply)

			r.With(RequireAdmin).Get("/conversations/{id}/events", h.GetConversationEvents)
			r.With(RequireAdmin).Delete("/conversations/{id}", h.DeleteConversation)
		})
	})

	return r
}
