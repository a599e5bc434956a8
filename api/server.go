package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

const defaultShutdownTimeout = 15 * time.Second

// Server wraps http.Server with context-driven graceful shutdown for cmd/api.
type Server struct {
	srv             *http.Server
	logg            *logger.Logger
	shutdownTimeout time.Duration
}

type ServerParams struct {
	Addr            string
	Handler         http.Handler
	Logger          *logger.Logger
	ShutdownTimeout time.Duration
}

func NewServer(params ServerParams) *Server {
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.ShutdownTimeout <= 0 {
		params.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Server{
		srv: &http.Server{
			Addr:              params.Addr,
			Handler:           params.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logg:            params.Logger,
		shutdownTimeout: params.ShutdownTimeout,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logg.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
