// Package server constructs and runs the PingSpace HTTP service with helpers
// that apply production timeouts and graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Server is the PingSpace chat backend: REST directory and history routes
// plus per-room WebSocket channels.
type Server struct {
	cfg      Config
	hub      *Hub
	store    *Store
	auth     *Authenticator
	limits   *userLimiters
	origins  originPolicy
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// New builds a Server over store. cfg.JWTSecret is required; other zero
// values fall back to defaults.
func New(cfg Config, store *Store, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("server: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = sanitizeConfig(cfg)

	auth, err := NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		hub:     NewHub(logger),
		store:   store,
		auth:    auth,
		limits:  newUserLimiters(cfg.RateLimit, time.Now),
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
		log:     logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.allows,
	}
	return s, nil
}

func (s *Server) Config() Config                { return s.cfg }
func (s *Server) Hub() *Hub                     { return s.hub }
func (s *Server) Authenticator() *Authenticator { return s.auth }

// StartHub runs the hub in its own goroutine. Call it before serving.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.log.Info("Hub started and ready to manage WebSocket connections")
}

// Run serves HTTP on the configured port until ctx is cancelled, then shuts
// down the listener and the hub within shutdownTimeout each.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	httpServer := CreateServer(s.cfg.Port, s.Routes())
	s.StartHub()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = s.hub.Shutdown(shutdownTimeout)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	httpErr := ShutdownServer(httpServer, shutdownTimeout, s.log)
	hubErr := s.hub.Shutdown(shutdownTimeout)
	return errors.Join(httpErr, hubErr)
}

// CreateServer creates an HTTP server for handler with production timeouts.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ShutdownServer gracefully shuts down server, waiting up to timeout for
// in-flight requests. Upgraded connections are closed by the hub.
func ShutdownServer(server *http.Server, timeout time.Duration, log *slog.Logger) error {
	log.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
		return err
	}

	log.Info("HTTP server shutdown completed")
	return nil
}
