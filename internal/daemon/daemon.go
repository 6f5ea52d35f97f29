// Package daemon wires store, bus, network monitor, sync engine and the
// control plane into one long-running process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/driftlock/driftsync/internal/bus"
	"github.com/driftlock/driftsync/internal/config"
	"github.com/driftlock/driftsync/internal/controlplane"
	"github.com/driftlock/driftsync/internal/netmon"
	"github.com/driftlock/driftsync/internal/remote"
	"github.com/driftlock/driftsync/internal/store"
	"github.com/driftlock/driftsync/internal/sync"
	"github.com/driftlock/driftsync/internal/utils"
)

const lockFile = "driftsync.lock"

type Daemon struct {
	config *config.Config
	store  *store.SqliteStore
	bus    *bus.Bus
	net    *netmon.Monitor
	engine *sync.Engine
	plane  *controlplane.Server
	flock  *flock.Flock
}

func New(cfg *config.Config) (*Daemon, error) {
	if err := utils.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s, err := store.NewSqliteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	client := remote.NewClient(cfg.ServerURL, cfg.ServerToken)
	b := bus.New()
	net := netmon.New(netmon.WithProbe(client.Ping, 30*time.Second))
	engine := sync.NewEngine(s, client, b, net)

	plane := controlplane.New(controlplane.Config{
		Addr:  clientAddr(cfg.ClientURL),
		Token: cfg.ClientToken,
	}, engine, b)

	return &Daemon{
		config: cfg,
		store:  s,
		bus:    b,
		net:    net,
		engine: engine,
		plane:  plane,
		flock:  flock.New(filepath.Join(cfg.DataDir, lockFile)),
	}, nil
}

// Start runs until ctx is cancelled. A second daemon on the same data dir
// fails fast on the file lock instead of corrupting the queue.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("driftsync daemon start", "datadir", d.config.DataDir, "email", d.config.Email, "server", d.config.ServerURL)

	locked, err := d.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another driftsync instance owns %s", d.config.DataDir)
	}
	defer d.flock.Unlock()

	if err := d.engine.Start(ctx); err != nil {
		return fmt.Errorf("start sync engine: %w", err)
	}

	if d.config.Email != "" {
		if err := d.engine.Initialize(ctx, d.config.Email); err != nil {
			return fmt.Errorf("initialize session: %w", err)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return d.net.Start(egCtx)
	})

	eg.Go(func() error {
		if err := d.plane.Start(egCtx); err != nil {
			return fmt.Errorf("control plane: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("stopping daemon")
		d.engine.Stop()
		d.bus.Close()
		return d.store.Close()
	})

	return eg.Wait()
}

// clientAddr extracts host:port from the configured client URL.
func clientAddr(clientURL string) string {
	const defaultAddr = "localhost:7938"
	u, err := url.Parse(clientURL)
	if err != nil || u.Host == "" {
		return defaultAddr
	}
	return u.Host
}
