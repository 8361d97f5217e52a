// Package api serves stored readings over a small REST surface.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/runsascoded/awair/internal/store"
)

// Server is the REST API server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	logger     *slog.Logger
}

// NewServer creates a new API server with all routes registered.
func NewServer(s store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		Store:     s,
		Logger:    logger,
		StartTime: time.Now(),
	}

	mux := http.NewServeMux()

	// API routes.
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/latest", h.Latest)
	mux.HandleFunc("GET /api/v1/readings", h.Readings)
	mux.HandleFunc("GET /api/v1/summary", h.Summary)
	mux.HandleFunc("GET /api/v1/gaps", h.Gaps)
	mux.HandleFunc("GET /api/v1/days", h.Days)

	// Apply middleware (outermost runs first).
	var handler http.Handler = mux
	handler = ContentType(handler)
	handler = SecurityHeaders(handler)
	handler = Logger(logger)(handler)
	handler = RequestID(handler)
	handler = Recovery(logger)(handler)

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, handlers: h, logger: logger}
}

// ListenAndServe starts the HTTP server. Blocks until the context is
// cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer.Addr = addr
	s.logger.Info("api server starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SetVersion sets the version string for the health endpoint.
func (s *Server) SetVersion(v string) { s.handlers.Version = v }

// SetStorageInfo sets storage driver and path for the health endpoint.
func (s *Server) SetStorageInfo(driver, path string) {
	s.handlers.StorageDriver = driver
	s.handlers.StoragePath = path
}
