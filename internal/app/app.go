package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"chatsync/internal/api"
	"chatsync/internal/retention"
	"chatsync/pkg/config"
	"chatsync/pkg/engine"
	"chatsync/pkg/hub"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/state"
	"chatsync/pkg/store"
)

// App groups the daemon's components.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	db              *store.DB
	remote          remoteLog
	eng             *engine.Engine
	api             *api.API
	pins            []*hub.Handle
	retentionCancel context.CancelFunc

	srvFast    *fasthttp.Server
	listenAddr string
	readyState atomic.Bool
}

// New validates the configuration and opens the local cache. Network
// resources are acquired by Run.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	_ = godotenv.Load(".env")

	if eff.Config == nil {
		return nil, fmt.Errorf("missing configuration")
	}
	if err := config.ValidateConfig(&eff); err != nil {
		return nil, err
	}
	logger.LogConfigSummary("config_summary", eff.Config.Summary())

	if state.PathsVar.Store == "" {
		return nil, fmt.Errorf("state paths not initialized")
	}
	db, err := store.Open(state.PathsVar.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}
	logger.Info("store_opened", "path", db.Path(), "disk_usage", humanize.Bytes(db.DiskUsage()))
	if avail, total, err := state.DiskStats(db.Path()); err == nil {
		logger.Info("store_disk", "available", humanize.Bytes(avail), "total", humanize.Bytes(total))
	}

	return &App{eff: eff, version: version, db: db, listenAddr: eff.Addr}, nil
}

// Run connects the remote log, starts the engine and the HTTP server, and
// blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.eff.Config

	rl, err := openRemote(ctx, cfg.Remote)
	if err != nil {
		return err
	}
	a.remote = rl

	a.eng = engine.New(rl, a.db)
	if err := a.eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	for _, id := range cfg.Sync.PinnedChannels {
		h, err := a.eng.Observe(id, func([]models.Message) {})
		if err != nil {
			return fmt.Errorf("pin channel %q: %w", id, err)
		}
		a.pins = append(a.pins, h)
		logger.Info("channel_pinned", "channel", id)
	}

	cancel, err := retention.Start(ctx, cfg.Retention, a.eng)
	if err != nil {
		return err
	}
	a.retentionCancel = cancel

	a.api = api.New(a.eng, api.Options{
		RateRPS:        cfg.Security.RateLimit.RPS,
		RateBurst:      cfg.Security.RateLimit.Burst,
		RequestTimeout: cfg.Remote.RequestTimeout.Duration(),
		SenderID:       cfg.Sync.SenderID,
		SenderName:     cfg.Sync.SenderName,
	})

	errCh := a.startHTTP(ctx)
	a.readyState.Store(true)
	logger.Info("chatsync_started", "addr", a.listenAddr, "remote", cfg.Remote.Mode, "version", a.version)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
