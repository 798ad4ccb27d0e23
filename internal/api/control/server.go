package control

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server serves the control API with h2c (HTTP/2 cleartext) support.
type Server struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	cancel   context.CancelFunc
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler) *Server {
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		errCh:  make(chan error, 1),
		cancel: cancel,
	}
}

// Start begins listening. Serve errors are reported on Err.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.server.Addr)
	}
	s.listener = ln
	zlog.Info().Msgf("control: starting server: addr=%s", ln.Addr())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Err yields a serve failure.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Shutdown stops the server gracefully. Open state streams are cancelled first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shutdown control server")
	}
	return nil
}
