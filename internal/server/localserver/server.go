package localserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// Server serves an http.Handler on a Unix domain socket.
type Server struct {
	path       string
	httpServer *http.Server
}

// New creates a local server for the given socket path and handler.
func New(socketPath string, handler http.Handler) *Server {
	return &Server{
		path:       socketPath,
		httpServer: &http.Server{Handler: handler},
	}
}

// ListenAndServe binds the socket and serves until Shutdown. A stale
// socket file from an unclean previous run is removed first.
func (s *Server) ListenAndServe() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("localserver: remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("localserver: listen: %w", err)
	}

	// Owner-only: the socket bypasses the admin network ACL.
	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("localserver: chmod socket: %w", err)
	}

	err = s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and removes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
