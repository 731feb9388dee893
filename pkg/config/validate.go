package config

import (
	"fmt"

	"github.com/adhocore/gronx"

	"chatsync/pkg/models"
)

// ValidateConfig fills defaults and fails fast on values the daemon cannot
// run with.
func ValidateConfig(eff *EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}

	if cfg.Server.DBPath == "" {
		cfg.Server.DBPath = defaultDBPath
	}
	if cfg.Server.MaxBodySize <= 0 {
		cfg.Server.MaxBodySize = SizeBytes(defaultMaxBodySize)
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = Duration(defaultReadTimeout)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	rc := &cfg.Remote
	if rc.Mode == "" {
		rc.Mode = defaultRemoteMode
	}
	if !remoteModes[rc.Mode] {
		return fmt.Errorf("invalid remote.mode %q: want memory, mongo or nats", rc.Mode)
	}
	if rc.ReconnectRPS <= 0 {
		rc.ReconnectRPS = defaultReconnectRPS
	}
	if rc.ReconnectBurst <= 0 {
		rc.ReconnectBurst = defaultReconnectBurst
	}
	if rc.RequestTimeout <= 0 {
		rc.RequestTimeout = Duration(defaultRequestTimeout)
	}
	if rc.Mongo.Database == "" {
		rc.Mongo.Database = defaultMongoDatabase
	}
	if rc.NATS.Prefix == "" {
		rc.NATS.Prefix = defaultNATSPrefix
	}
	switch rc.Mode {
	case "mongo":
		if rc.Mongo.URI == "" {
			return fmt.Errorf("remote.mode mongo requires remote.mongo.uri or CHATSYNC_MONGO_URI")
		}
	case "nats":
		if rc.NATS.URL == "" {
			rc.NATS.URL = defaultNATSURL
		}
	}

	for _, id := range cfg.Sync.PinnedChannels {
		if err := models.ValidateID(id); err != nil {
			return fmt.Errorf("sync.pinned_channels: %w", err)
		}
	}
	if cfg.Sync.SenderID == "" {
		cfg.Sync.SenderID = "chatsync"
	}
	if cfg.Sync.SenderName == "" {
		cfg.Sync.SenderName = cfg.Sync.SenderID
	}

	if cfg.Retention.Cron == "" {
		cfg.Retention.Cron = defaultRetentionCron
	}
	if cfg.Retention.IdlePeriod <= 0 {
		cfg.Retention.IdlePeriod = Duration(defaultIdlePeriod)
	}
	if cfg.Retention.Enabled && !gronx.New().IsValid(cfg.Retention.Cron) {
		return fmt.Errorf("invalid retention.cron: not a valid cron expression")
	}

	if cfg.Security.RateLimit.RPS <= 0 {
		cfg.Security.RateLimit.RPS = defaultRateRPS
	}
	if cfg.Security.RateLimit.Burst <= 0 {
		cfg.Security.RateLimit.Burst = defaultRateBurst
	}

	eff.Addr = cfg.Addr()
	eff.DBPath = cfg.Server.DBPath
	return nil
}
