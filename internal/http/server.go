// README: HTTP server lifecycle; serves until the context ends, then shuts down gracefully.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"honeycomb/internal/logger"
)

type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	log             logger.Logger
}

func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration, log logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		log:             log,
	}
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}
