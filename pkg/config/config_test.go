package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
server:
  address: 127.0.0.1
  port: 9090
  db_path: /var/lib/chatsync
  max_body_size: 2MB
  read_timeout: 15
logging:
  level: debug
remote:
  mode: nats
  nats:
    url: nats://broker:4222
sync:
  pinned_channels: [general, random]
  sender_id: bot
retention:
  enabled: true
  cron: "*/5 * * * *"
  idle_period: 2d
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := LoadConfigFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, int64(2_000_000), cfg.Server.MaxBodySize.Int64())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout.Duration())
	assert.Equal(t, "nats", cfg.Remote.Mode)
	assert.Equal(t, []string{"general", "random"}, cfg.Sync.PinnedChannels)
	assert.Equal(t, 48*time.Hour, cfg.Retention.IdlePeriod.Duration())
}

func TestUnmarshalRejectsBadValues(t *testing.T) {
	var c Config
	err := yaml.Unmarshal([]byte("server:\n  max_body_size: lots\n"), &c)
	assert.Error(t, err)
	err = yaml.Unmarshal([]byte("retention:\n  idle_period: soon\n"), &c)
	assert.Error(t, err)
}

func TestParseConfigFileMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, found, err := ParseConfigFile(Flags{Config: missing, Set: map[string]bool{}})
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotNil(t, cfg)

	_, _, err = ParseConfigFile(Flags{Config: missing, Set: map[string]bool{"config": true}})
	assert.Error(t, err)
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("CHATSYNC_ADDR", "10.0.0.1:7000")
	t.Setenv("CHATSYNC_REMOTE_MODE", "mongo")
	t.Setenv("CHATSYNC_MONGO_URI", "mongodb://db:27017")
	t.Setenv("CHATSYNC_PINNED_CHANNELS", "a, b,,c")
	t.Setenv("CHATSYNC_RETENTION_ENABLED", "yes")
	t.Setenv("CHATSYNC_RATE_RPS", "12.5")

	cfg, res, err := ParseConfigEnvs()
	require.NoError(t, err)
	assert.True(t, res.EnvUsed)
	assert.Equal(t, "10.0.0.1", cfg.Server.Address)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "mongo", cfg.Remote.Mode)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Sync.PinnedChannels)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 12.5, cfg.Security.RateLimit.RPS)
}

func TestParseConfigEnvsReportsBadNumbers(t *testing.T) {
	t.Setenv("CHATSYNC_RATE_BURST", "many")
	_, _, err := ParseConfigEnvs()
	assert.ErrorContains(t, err, "CHATSYNC_RATE_BURST")
}

func TestEffectiveConfigPrecedence(t *testing.T) {
	fileCfg, err := LoadConfigFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	envCfg := &Config{}
	envCfg.Remote.Mode = "memory"
	envCfg.Logging.Level = "warn"

	flags := Flags{
		Addr:     ":9999",
		DB:       "/tmp/flagdb",
		LogLevel: "error",
		Set:      map[string]bool{"addr": true, "log-level": true},
	}
	eff := LoadEffectiveConfig(flags, fileCfg, true, envCfg, EnvResult{EnvUsed: true})
	require.NoError(t, ValidateConfig(&eff))

	assert.Equal(t, []string{"config", "env", "flags"}, eff.Sources)
	assert.Equal(t, "error", eff.Config.Logging.Level)
	assert.Equal(t, "memory", eff.Config.Remote.Mode)
	assert.Equal(t, 9999, eff.Config.Server.Port)
	assert.Equal(t, "/var/lib/chatsync", eff.DBPath)
	assert.Equal(t, "bot", eff.Config.Sync.SenderID)
	assert.Equal(t, "bot", eff.Config.Sync.SenderName)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.Remote.Mode = "redis" }, "remote.mode"},
		{"mongo without uri", func(c *Config) { c.Remote.Mode = "mongo" }, "mongo.uri"},
		{"bad cron", func(c *Config) { c.Retention.Enabled = true; c.Retention.Cron = "every day" }, "retention.cron"},
		{"bad pinned id", func(c *Config) { c.Sync.PinnedChannels = []string{"a:b"} }, "pinned_channels"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mutate(cfg)
			eff := EffectiveConfigResult{Config: cfg}
			err := ValidateConfig(&eff)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "memory", cfg.Remote.Mode)
				assert.Equal(t, defaultDBPath, eff.DBPath)
				assert.Equal(t, defaultRetentionCron, cfg.Retention.Cron)
				assert.Equal(t, float64(defaultRateRPS), cfg.Security.RateLimit.RPS)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSummaryMentionsBackend(t *testing.T) {
	cfg := &Config{}
	eff := EffectiveConfigResult{Config: cfg}
	cfg.Remote.Mode = "nats"
	require.NoError(t, ValidateConfig(&eff))
	joined := ""
	for _, s := range cfg.Summary() {
		joined += s + "\n"
	}
	assert.Contains(t, joined, "remote.nats.url: nats://127.0.0.1:4222")
	assert.Contains(t, joined, "retention: disabled")
}
