package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAddress     = "0.0.0.0"
	defaultPort        = 8080
	defaultDBPath      = "./.chatsync"
	defaultMaxBodySize = 1 << 20 // 1 MiB
	defaultReadTimeout = 10 * time.Second

	defaultRemoteMode     = "memory"
	defaultReconnectRPS   = 1.0
	defaultReconnectBurst = 3
	defaultRequestTimeout = 5 * time.Second
	defaultMongoDatabase  = "chatsync"
	defaultNATSURL        = "nats://127.0.0.1:4222"
	defaultNATSPrefix     = "chatsync"

	defaultRetentionCron = "0 3 * * *" // daily at 03:00
	defaultIdlePeriod    = 7 * 24 * time.Hour

	defaultRateRPS   = 200
	defaultRateBurst = 400
)

var remoteModes = map[string]bool{"memory": true, "mongo": true, "nats": true}

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = defaultAddress
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// Summary renders the effective settings for the startup log block.
func (c *Config) Summary() []string {
	items := []string{
		"addr: " + c.Addr(),
		"db_path: " + c.Server.DBPath,
		"log_level: " + c.Logging.Level,
		"remote.mode: " + c.Remote.Mode,
	}
	switch c.Remote.Mode {
	case "mongo":
		items = append(items, "remote.mongo.database: "+c.Remote.Mongo.Database)
	case "nats":
		items = append(items, "remote.nats.url: "+c.Remote.NATS.URL)
	}
	if len(c.Sync.PinnedChannels) > 0 {
		items = append(items, "sync.pinned_channels: "+strings.Join(c.Sync.PinnedChannels, ","))
	}
	if c.Retention.Enabled {
		items = append(items, fmt.Sprintf("retention: %s idle=%s", c.Retention.Cron, c.Retention.IdlePeriod.Duration()))
	} else {
		items = append(items, "retention: disabled")
	}
	items = append(items, fmt.Sprintf("rate_limit: %.0f rps burst %d", c.Security.RateLimit.RPS, c.Security.RateLimit.Burst))
	return items
}
