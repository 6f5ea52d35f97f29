// Package controlplane is the local HTTP API a desktop shell or CLI uses to
// drive the sync engine: status, force/full sync, enqueue, session control
// and a websocket event stream.
package controlplane

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/driftlock/driftsync/internal/bus"
	"github.com/driftlock/driftsync/internal/sync"
	"github.com/driftlock/driftsync/internal/utils"
)

type Config struct {
	// Addr to bind, usually a localhost port.
	Addr string
	// Token guards every /v1 route. Empty disables auth; local use only.
	Token string
	// RequestTimeout bounds a single request.
	RequestTimeout time.Duration
}

type Server struct {
	config Config
	engine *sync.Engine
	bus    *bus.Bus
	server *http.Server
}

func New(config Config, engine *sync.Engine, b *bus.Bus) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		config: config,
		engine: engine,
		bus:    b,
	}
	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("control plane start", "addr", s.config.Addr, "token", utils.MaskSecret(s.config.Token))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("control plane stop")
	return nil
}
