// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/calrelay/calrelay/internal/frameworks/service"
	"github.com/calrelay/calrelay/internal/platform/config"
	"github.com/calrelay/calrelay/internal/platform/logutil"
)

// ErrInvalidTLSMode is returned by Start for an unknown tls.mode.
var ErrInvalidTLSMode = errors.New("invalid tls mode")

// Server wraps the HTTP server and its mounted services.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *slog.Logger
	services   []service.Service

	// mountedServices tracks services for lifecycle management (Close on shutdown).
	// Stored in mount order; closed in reverse order during shutdown.
	mountedServices []service.Service
}

// New creates a new Server. Nil services are skipped at mount time.
func New(cfg *config.Config, logger *slog.Logger, services ...service.Service) *Server {
	logger = logutil.NoopIfNil(logger)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		services: services,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Callbacks can fan out to many chat messages; keep headroom over
		// the outbound timeout.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler. Used by tests and by embedding hosts.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"public_origin", s.cfg.PublicOrigin,
		"base_path", s.cfg.BasePath,
		"tls_mode", s.cfg.TLS.Mode,
	)

	switch s.cfg.TLS.Mode {
	case "off":
		return s.httpServer.ListenAndServe()
	case "static":
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidTLSMode, s.cfg.TLS.Mode)
	}
}

// Shutdown gracefully shuts down the server and all mounted services.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	httpErr := s.httpServer.Shutdown(ctx)

	// Close services in reverse mount order (last mounted = first closed)
	for i := len(s.mountedServices) - 1; i >= 0; i-- {
		svc := s.mountedServices[i]
		prefix := svc.Prefix()
		if prefix == "" {
			prefix = "(root)"
		}
		if err := svc.Close(); err != nil {
			s.logger.Warn("service close error", "service", prefix, "error", err)
			// best-effort: keep closing the rest
		} else {
			s.logger.Debug("service closed", "service", prefix)
		}
	}

	return httpErr
}
