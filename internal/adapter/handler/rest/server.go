package rest

import (
	"context"
	"errors"
	"net"
	"net/http"

	config "github.com/crabzie/task-console/config/utils"
	"go.uber.org/zap"
)

// Server is the task console HTTP server
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer creates a server for handler using the http config section
func NewServer(config *config.HTTP, handler http.Handler, log *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         config.Addr,
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
		log: log,
	}
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
