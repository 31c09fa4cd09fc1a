// Package api exposes the HTTP surface: upload sessions, downloads, folders,
// auth, and health, with the taxonomy error shape on every failure.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/config"
)

// Server is the HTTP front end. Create with NewServer, then Start; Shutdown
// drains in-flight requests.
type Server struct {
	server       *http.Server
	shutdownOnce sync.Once
}

// NewServer builds the server around the composed router.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start serves until Shutdown is called or the listener fails. It blocks;
// run it on its own goroutine.
func (s *Server) Start() error {
	logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight handlers up
// to the context deadline. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		logger.Info("http server shutting down")
		err = s.server.Shutdown(ctx)
	})
	return err
}
