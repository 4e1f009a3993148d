// Package server wires HTTP handlers into a chi router for the support desk
// service.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes configures the router with the WebSocket transports, the transcript
// REST surface, the console page and Prometheus scraping.
func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestMetrics)
	r.Use(maxBodySize(s.cfg.MaxMessageSize))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins.list(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", s.healthHandler)
	r.Get("/console", s.consoleHandler)

	r.Get("/users", s.usersHandler)
	r.Get("/users/online", s.onlineUsersHandler)
	r.Get("/chat/{userID}", s.chatHistoryHandler)
	r.Post("/chat/{userID}", s.postChatHandler)

	r.Get("/ws", s.webSocketHandler(IdentifyHandshake))
	r.Get("/ws/register", s.webSocketHandler(IdentifyRegister))

	return r
}
