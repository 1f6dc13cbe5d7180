package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/call-negotiator/internal/config"
	"github.com/capitalize-ai/call-negotiator/internal/handler"
	"github.com/capitalize-ai/call-negotiator/internal/middleware"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
)

func newRouter(cfg *config.Config, a *app, log *logger.Logger) http.Handler {
	health := handler.NewHealthHandler(a.checks...)
	sessions := handler.NewSessionHandler(a.sessions, a.backend, a.backend, log)
	stream := handler.NewStreamHandler(a.sessions, handler.DefaultHeartbeat, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Probes and metrics are unauthenticated.
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		sessions.Routes(r)
		r.Get("/sessions/{id}/stream", stream.Stream)
	})
	return r
}
