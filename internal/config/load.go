package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. NXIPC_DIALECT.
const EnvPrefix = "NXIPC"

// fileConfig is the on-disk shape. Durations are strings such as "50ms".
type fileConfig struct {
	Dialect            string          `toml:"dialect" comment:"auto, cmif or tipc; auto picks tipc from firmware 12 on"`
	FirmwareMajor      int             `toml:"firmware_major"`
	RegionSize         int             `toml:"region_size" comment:"bytes in each session's message region"`
	QueryPointerBuffer bool            `toml:"query_pointer_buffer"`
	LogLevel           string          `toml:"log_level"`
	MetricsAddr        string          `toml:"metrics_addr"`
	SMRetry            fileRetryConfig `toml:"sm_retry"`
	Sim                fileSimConfig   `toml:"sim"`
}

type fileRetryConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
	MaxAttempts  int     `toml:"max_attempts" comment:"0 waits until the caller gives up"`
}

type fileSimConfig struct {
	SMDelay           int     `toml:"sm_delay" comment:"connects to sm: that fail before it comes up"`
	PointerBufferSize int     `toml:"pointer_buffer_size"`
	Workers           int     `toml:"workers"`
	Requests          int     `toml:"requests"`
	RatePerSecond     float64 `toml:"rate_per_second"`
}

// Load overlays the file at path on DefaultConfig, then the environment.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		if err := overlayFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config env overrides: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config parse failed (%s): unknown key %s", path, undecoded[0])
	}

	if meta.IsDefined("dialect") {
		cfg.Dialect = strings.TrimSpace(raw.Dialect)
	}
	if meta.IsDefined("firmware_major") {
		cfg.FirmwareMajor = raw.FirmwareMajor
	}
	if meta.IsDefined("region_size") {
		cfg.RegionSize = raw.RegionSize
	}
	if meta.IsDefined("query_pointer_buffer") {
		cfg.QueryPointerBuffer = raw.QueryPointerBuffer
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("sm_retry", "initial_delay") {
		if cfg.SMRetry.InitialDelay, err = parseDuration("sm_retry.initial_delay", raw.SMRetry.InitialDelay); err != nil {
			return err
		}
	}
	if meta.IsDefined("sm_retry", "multiplier") {
		cfg.SMRetry.Multiplier = raw.SMRetry.Multiplier
	}
	if meta.IsDefined("sm_retry", "max_delay") {
		if cfg.SMRetry.MaxDelay, err = parseDuration("sm_retry.max_delay", raw.SMRetry.MaxDelay); err != nil {
			return err
		}
	}
	if meta.IsDefined("sm_retry", "jitter") {
		cfg.SMRetry.Jitter = raw.SMRetry.Jitter
	}
	if meta.IsDefined("sm_retry", "max_attempts") {
		cfg.SMRetry.MaxAttempts = raw.SMRetry.MaxAttempts
	}

	if meta.IsDefined("sim", "sm_delay") {
		cfg.Sim.SMDelay = raw.Sim.SMDelay
	}
	if meta.IsDefined("sim", "pointer_buffer_size") {
		cfg.Sim.PointerBufferSize = raw.Sim.PointerBufferSize
	}
	if meta.IsDefined("sim", "workers") {
		cfg.Sim.Workers = raw.Sim.Workers
	}
	if meta.IsDefined("sim", "requests") {
		cfg.Sim.Requests = raw.Sim.Requests
	}
	if meta.IsDefined("sim", "rate_per_second") {
		cfg.Sim.RatePerSecond = raw.Sim.RatePerSecond
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
