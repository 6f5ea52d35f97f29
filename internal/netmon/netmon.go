// Package netmon tracks connectivity. The flag is driven by platform
// signals via SetOnline and, when a probe is configured, by periodically
// probing the backend health endpoint.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultProbeInterval = 30 * time.Second

// Probe reports reachability of the backend. A nil error means online.
type Probe func(ctx context.Context) error

// Monitor owns the single online/offline boolean.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	listeners []func(online bool)

	probe    Probe
	interval time.Duration
}

type Option func(*Monitor)

// WithProbe enables the periodic reachability probe.
func WithProbe(p Probe, interval time.Duration) Option {
	return func(m *Monitor) {
		m.probe = p
		if interval > 0 {
			m.interval = interval
		}
	}
}

// New creates a Monitor. It starts optimistically online; the first failed
// probe or platform signal corrects it.
func New(opts ...Option) *Monitor {
	m := &Monitor{online: true, interval: defaultProbeInterval}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the current connectivity flag.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline is the platform connectivity signal. Listeners are notified
// only on a transition.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]func(bool), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	slog.Info("network transition", "online", online)
	for _, fn := range listeners {
		fn(online)
	}
}

// OnChange registers fn to run on every connectivity transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start runs the probe loop until ctx is cancelled. No-op without a probe.
func (m *Monitor) Start(ctx context.Context) error {
	if m.probe == nil {
		<-ctx.Done()
		return nil
	}

	m.probeOnce(ctx)

	// timer, not ticker, so a slow probe never queues ticks
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			m.probeOnce(ctx)
			timer.Reset(m.interval)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := m.probe(probeCtx)
	if err != nil && ctx.Err() != nil {
		return // shutting down, not a connectivity verdict
	}
	m.SetOnline(err == nil)
}
