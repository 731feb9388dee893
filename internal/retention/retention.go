// Package retention periodically evicts cached channels nobody has observed
// for a while.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

// Evictor drops the local cache of channels idle for longer than idle.
type Evictor interface {
	EvictIdle(idle time.Duration) (int, error)
}

type Manager struct {
	cron string
	idle time.Duration
	ev   Evictor

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	running bool
}

func New(cfg config.RetentionConfig, ev Evictor) *Manager {
	return &Manager{
		cron:  cfg.Cron,
		idle:  cfg.IdlePeriod.Duration(),
		ev:    ev,
		now:   time.Now,
		after: time.After,
	}
}

// Start launches the schedule loop. The returned cancel stops it. When
// retention is disabled Start does nothing.
func Start(ctx context.Context, cfg config.RetentionConfig, ev Evictor) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	if !gronx.New().IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid retention cron %q", cfg.Cron)
	}
	m := New(cfg, ev)
	ctx2, cancel := context.WithCancel(ctx)
	logger.Info("retention_enabled", "cron", m.cron, "idle", m.idle.String())
	go m.scheduleLoop(ctx2)
	return cancel, nil
}

// Next reports when the schedule fires after t.
func (m *Manager) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(m.cron, t, false)
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	for {
		next, err := m.Next(m.now())
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", m.cron, "error", err)
			select {
			case <-m.after(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		wait := next.Sub(m.now())
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-m.after(wait):
			m.runJob()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) runJob() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if _, err := m.RunOnce(); err != nil {
		logger.Error("retention_run_error", "error", err)
	}
}

// RunOnce evicts idle channels immediately.
func (m *Manager) RunOnce() (int, error) {
	start := m.now()
	logger.Info("retention_run_start", "idle", m.idle.String())
	n, err := m.ev.EvictIdle(m.idle)
	if err != nil {
		return n, fmt.Errorf("evict idle channels: %w", err)
	}
	logger.Info("retention_run_complete", "evicted", n, "elapsed", m.now().Sub(start).String())
	return n, nil
}
