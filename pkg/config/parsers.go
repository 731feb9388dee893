package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds command-line values and which of them were set explicitly.
type Flags struct {
	Addr     string
	DB       string
	Config   string
	Remote   string
	LogLevel string
	Set      map[string]bool
}

// EnvResult reports whether any CHATSYNC_* variable contributed.
type EnvResult struct {
	EnvUsed bool
}

// EffectiveConfigResult is the merged configuration and where it came from.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	// Sources lists the layers that contributed, lowest precedence first.
	Sources []string
}

// ParseConfigFile loads the config file. A missing file that was not asked
// for explicitly yields an empty config.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	if cfgPath == "" {
		return &Config{}, false, nil
	}
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if flags.Set["config"] {
				return nil, false, fmt.Errorf("config file %s not found", cfgPath)
			}
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs loads CHATSYNC_* variables into a new Config.
func ParseConfigEnvs() (*Config, EnvResult, error) {
	envs := map[string]string{
		"ADDR":            os.Getenv("CHATSYNC_ADDR"),
		"SERVER_ADDRESS":  os.Getenv("CHATSYNC_SERVER_ADDRESS"),
		"SERVER_PORT":     os.Getenv("CHATSYNC_SERVER_PORT"),
		"DB_PATH":         os.Getenv("CHATSYNC_DB_PATH"),
		"MAX_BODY_SIZE":   os.Getenv("CHATSYNC_MAX_BODY_SIZE"),
		"READ_TIMEOUT":    os.Getenv("CHATSYNC_READ_TIMEOUT"),
		"LOG_LEVEL":       os.Getenv("CHATSYNC_LOG_LEVEL"),
		"REMOTE_MODE":     os.Getenv("CHATSYNC_REMOTE_MODE"),
		"RECONNECT_RPS":   os.Getenv("CHATSYNC_RECONNECT_RPS"),
		"RECONNECT_BURST": os.Getenv("CHATSYNC_RECONNECT_BURST"),
		"REQUEST_TIMEOUT": os.Getenv("CHATSYNC_REQUEST_TIMEOUT"),
		"MONGO_URI":       os.Getenv("CHATSYNC_MONGO_URI"),
		"MONGO_DATABASE":  os.Getenv("CHATSYNC_MONGO_DATABASE"),
		"NATS_URL":        os.Getenv("CHATSYNC_NATS_URL"),
		"NATS_PREFIX":     os.Getenv("CHATSYNC_NATS_PREFIX"),
		"PINNED_CHANNELS": os.Getenv("CHATSYNC_PINNED_CHANNELS"),
		"SENDER_ID":       os.Getenv("CHATSYNC_SENDER_ID"),
		"SENDER_NAME":     os.Getenv("CHATSYNC_SENDER_NAME"),

		// retention
		"RETENTION_ENABLED":     os.Getenv("CHATSYNC_RETENTION_ENABLED"),
		"RETENTION_CRON":        os.Getenv("CHATSYNC_RETENTION_CRON"),
		"RETENTION_IDLE_PERIOD": os.Getenv("CHATSYNC_RETENTION_IDLE_PERIOD"),

		// rate limiting
		"RATE_RPS":   os.Getenv("CHATSYNC_RATE_RPS"),
		"RATE_BURST": os.Getenv("CHATSYNC_RATE_BURST"),
	}

	envUsed := false
	for _, v := range envs {
		if v != "" {
			envUsed = true
			break
		}
	}
	envCfg := &Config{}
	var errs []error

	parseList := func(v string) []string {
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	parseInt := func(key string) int {
		n, err := strconv.Atoi(strings.TrimSpace(envs[key]))
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATSYNC_%s: %w", key, err))
		}
		return n
	}
	parseFloat := func(key string) float64 {
		f, err := strconv.ParseFloat(strings.TrimSpace(envs[key]), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATSYNC_%s: %w", key, err))
		}
		return f
	}
	parseDuration := func(key string) Duration {
		d, err := ParseDuration(envs[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATSYNC_%s: %w", key, err))
		}
		return d
	}

	if v := envs["ADDR"]; v != "" {
		host, port := splitAddr(v)
		envCfg.Server.Address = host
		envCfg.Server.Port = port
	} else {
		envCfg.Server.Address = envs["SERVER_ADDRESS"]
		if envs["SERVER_PORT"] != "" {
			envCfg.Server.Port = parseInt("SERVER_PORT")
		}
	}
	envCfg.Server.DBPath = envs["DB_PATH"]
	if v := envs["MAX_BODY_SIZE"]; v != "" {
		size, err := ParseSizeBytes(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATSYNC_MAX_BODY_SIZE: %w", err))
		}
		envCfg.Server.MaxBodySize = size
	}
	if envs["READ_TIMEOUT"] != "" {
		envCfg.Server.ReadTimeout = parseDuration("READ_TIMEOUT")
	}
	envCfg.Logging.Level = envs["LOG_LEVEL"]

	envCfg.Remote.Mode = envs["REMOTE_MODE"]
	if envs["RECONNECT_RPS"] != "" {
		envCfg.Remote.ReconnectRPS = parseFloat("RECONNECT_RPS")
	}
	if envs["RECONNECT_BURST"] != "" {
		envCfg.Remote.ReconnectBurst = parseInt("RECONNECT_BURST")
	}
	if envs["REQUEST_TIMEOUT"] != "" {
		envCfg.Remote.RequestTimeout = parseDuration("REQUEST_TIMEOUT")
	}
	envCfg.Remote.Mongo.URI = envs["MONGO_URI"]
	envCfg.Remote.Mongo.Database = envs["MONGO_DATABASE"]
	envCfg.Remote.NATS.URL = envs["NATS_URL"]
	envCfg.Remote.NATS.Prefix = envs["NATS_PREFIX"]

	if v := envs["PINNED_CHANNELS"]; v != "" {
		envCfg.Sync.PinnedChannels = parseList(v)
	}
	envCfg.Sync.SenderID = envs["SENDER_ID"]
	envCfg.Sync.SenderName = envs["SENDER_NAME"]

	if v := envs["RETENTION_ENABLED"]; v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			envCfg.Retention.Enabled = true
		}
	}
	envCfg.Retention.Cron = envs["RETENTION_CRON"]
	if envs["RETENTION_IDLE_PERIOD"] != "" {
		envCfg.Retention.IdlePeriod = parseDuration("RETENTION_IDLE_PERIOD")
	}

	if envs["RATE_RPS"] != "" {
		envCfg.Security.RateLimit.RPS = parseFloat("RATE_RPS")
	}
	if envs["RATE_BURST"] != "" {
		envCfg.Security.RateLimit.Burst = parseInt("RATE_BURST")
	}

	return envCfg, EnvResult{EnvUsed: envUsed}, errors.Join(errs...)
}

// LoadEffectiveConfig layers file, env and flags, each overriding the
// non-empty values of the one before.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) EffectiveConfigResult {
	var res EffectiveConfigResult
	out := &Config{}
	if fileExists && fileCfg != nil {
		overlay(out, fileCfg)
		res.Sources = append(res.Sources, "config")
	}
	if envRes.EnvUsed && envCfg != nil {
		overlay(out, envCfg)
		res.Sources = append(res.Sources, "env")
	}

	flagCfg := &Config{}
	if flags.Set["addr"] {
		flagCfg.Server.Address, flagCfg.Server.Port = splitAddr(flags.Addr)
	}
	if flags.Set["db"] {
		flagCfg.Server.DBPath = flags.DB
	}
	if flags.Set["remote"] {
		flagCfg.Remote.Mode = flags.Remote
	}
	if flags.Set["log-level"] {
		flagCfg.Logging.Level = flags.LogLevel
	}
	if len(flags.Set) > 0 {
		overlay(out, flagCfg)
		res.Sources = append(res.Sources, "flags")
	}

	if out.Server.DBPath == "" && flags.DB != "" {
		out.Server.DBPath = flags.DB
	}
	res.Config = out
	res.Addr = out.Addr()
	res.DBPath = out.Server.DBPath
	return res
}

// overlay copies every non-zero field of src onto dst.
func overlay(dst, src *Config) {
	setStr := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	setStr(&dst.Server.Address, src.Server.Address)
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	setStr(&dst.Server.DBPath, src.Server.DBPath)
	if src.Server.MaxBodySize != 0 {
		dst.Server.MaxBodySize = src.Server.MaxBodySize
	}
	if src.Server.ReadTimeout != 0 {
		dst.Server.ReadTimeout = src.Server.ReadTimeout
	}
	setStr(&dst.Logging.Level, src.Logging.Level)

	setStr(&dst.Remote.Mode, src.Remote.Mode)
	if src.Remote.ReconnectRPS != 0 {
		dst.Remote.ReconnectRPS = src.Remote.ReconnectRPS
	}
	if src.Remote.ReconnectBurst != 0 {
		dst.Remote.ReconnectBurst = src.Remote.ReconnectBurst
	}
	if src.Remote.RequestTimeout != 0 {
		dst.Remote.RequestTimeout = src.Remote.RequestTimeout
	}
	setStr(&dst.Remote.Mongo.URI, src.Remote.Mongo.URI)
	setStr(&dst.Remote.Mongo.Database, src.Remote.Mongo.Database)
	setStr(&dst.Remote.NATS.URL, src.Remote.NATS.URL)
	setStr(&dst.Remote.NATS.Prefix, src.Remote.NATS.Prefix)

	if len(src.Sync.PinnedChannels) > 0 {
		dst.Sync.PinnedChannels = append([]string(nil), src.Sync.PinnedChannels...)
	}
	setStr(&dst.Sync.SenderID, src.Sync.SenderID)
	setStr(&dst.Sync.SenderName, src.Sync.SenderName)

	if src.Retention.Enabled {
		dst.Retention.Enabled = true
	}
	setStr(&dst.Retention.Cron, src.Retention.Cron)
	if src.Retention.IdlePeriod != 0 {
		dst.Retention.IdlePeriod = src.Retention.IdlePeriod
	}

	if src.Security.RateLimit.RPS != 0 {
		dst.Security.RateLimit.RPS = src.Security.RateLimit.RPS
	}
	if src.Security.RateLimit.Burst != 0 {
		dst.Security.RateLimit.Burst = src.Security.RateLimit.Burst
	}
}

func splitAddr(a string) (string, int) {
	h, p, err := net.SplitHostPort(a)
	if err != nil {
		return a, 0
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return h, 0
	}
	return h, port
}
