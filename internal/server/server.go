// Package server implements the HTTP server functionality for the support
// desk service.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/supportdesk/internal/registry"
	"github.com/Tyrowin/supportdesk/internal/router"
	"github.com/Tyrowin/supportdesk/internal/transcript"
)

// Deps are the shared components a Server is built around.
type Deps struct {
	Registry    *registry.Registry
	Transcripts *transcript.Store
	Router      *router.Router
	Logger      zerolog.Logger
}

// Server owns the HTTP listener, the WebSocket hub and the handlers that sit
// between them and the shared components.
type Server struct {
	cfg         *Config
	registry    *registry.Registry
	transcripts *transcript.Store
	router      *router.Router
	hub         *Hub
	origins     *originPolicy
	upgrader    websocket.Upgrader
	httpServer  *http.Server
	hubOnce     sync.Once
	logger      zerolog.Logger
}

// New builds a Server from cfg and deps. The hub is created but not started;
// Start runs it.
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	cfg.Sanitize()

	logger := deps.Logger.With().Str("component", "http").Logger()
	s := &Server{
		cfg:         cfg,
		registry:    deps.Registry,
		transcripts: deps.Transcripts,
		router:      deps.Router,
		hub:         NewHub(deps.Registry, deps.Transcripts, deps.Router, deps.Logger),
		origins:     newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.httpServer = CreateServer(cfg.Port, s.routes())
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Hub returns the hub supervising WebSocket clients.
func (s *Server) Hub() *Hub { return s.hub }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start runs the hub and serves HTTP on ln until Shutdown. A clean shutdown
// returns nil.
func (s *Server) Start(ln net.Listener) error {
	s.runHub()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// ListenAndServe listens on the configured port and calls Start.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.httpServer.Addr)
	}
	return s.Start(ln)
}

// Shutdown stops accepting HTTP requests, then closes every WebSocket client
// and waits for their pumps. Both phases share timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	start := time.Now()
	httpErr := ShutdownServer(s.httpServer, timeout, s.logger)

	// Hub.Shutdown waits for Run, so start it if listening never succeeded.
	s.runHub()

	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		remaining = time.Second
	}
	if err := s.hub.Shutdown(remaining); err != nil {
		return errors.Wrap(err, "shutdown hub")
	}
	return httpErr
}

func (s *Server) runHub() {
	s.hubOnce.Do(func() { go s.hub.Run() })
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, logger zerolog.Logger) error {
	logger.Info().Msg("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		return errors.Wrap(err, "shutdown http")
	}

	logger.Info().Msg("HTTP server shutdown completed")
	return nil
}
