package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/haukened/sg-block/internal/block/common/log"
)

// ShutdownTimeout bounds how long Stop waits for in-flight requests.
const ShutdownTimeout = 5 * time.Second

// Server owns the listener and http.Server for the API.
type Server struct {
	addr    string
	handler http.Handler
	logger  log.Logger

	mu      sync.RWMutex
	running bool
	ln      net.Listener
	srv     *http.Server
	done    chan struct{}
}

// NewServer creates a server for handler on addr. It does not listen yet.
func NewServer(addr string, handler http.Handler, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Server{addr: addr, handler: handler, logger: logger}
}

// Start binds the listener and serves in the background. Cancelling ctx
// stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("http server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info(map[string]any{"address": ln.Addr().String()}, "http_server_started")

	go s.serve(s.srv, ln, s.done)
	go func(done chan struct{}) {
		select {
		case <-ctx.Done():
			s.logger.Debug(nil, "http_server_context_done")
			_ = s.Stop()
		case <-done:
		}
	}(s.done)
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, done chan struct{}) {
	defer close(done)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error(map[string]any{"error": err}, "http_server_failed")
	}
}

// Stop shuts the server down gracefully. It is safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv, done := s.srv, s.done
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		s.logger.Warn(map[string]any{"error": err}, "http_server_shutdown_error")
	}
	<-done

	s.logger.Info(map[string]any{"address": s.addr}, "http_server_stopped")
	return err
}

// Address returns the bound address while running, else the configured one.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.running && s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Done is closed once the serve loop has exited.
func (s *Server) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}
