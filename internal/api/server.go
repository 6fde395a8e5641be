package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Server wraps the gin engine in a plain *http.Server so Start/Stop can
// participate in graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        *logrus.Logger
}

// NewServer builds a Server listening on addr, serving the router from deps.
func NewServer(addr string, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: NewRouter(deps)},
		log:        log,
	}
}

// Start blocks serving HTTP until Stop is called, returning nil on a clean
// shutdown.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start API server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting active
// connections.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("stopping API server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop API server: %w", err)
	}
	return nil
}
