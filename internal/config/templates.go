package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders c as a config file Load accepts.
func Template(c Config) (string, error) {
	raw := fileConfig{
		Dialect:            c.Dialect,
		FirmwareMajor:      c.FirmwareMajor,
		RegionSize:         c.RegionSize,
		QueryPointerBuffer: c.QueryPointerBuffer,
		LogLevel:           c.LogLevel,
		MetricsAddr:        c.MetricsAddr,
		SMRetry: fileRetryConfig{
			InitialDelay: c.SMRetry.InitialDelay.String(),
			Multiplier:   c.SMRetry.Multiplier,
			MaxDelay:     c.SMRetry.MaxDelay.String(),
			Jitter:       c.SMRetry.Jitter,
			MaxAttempts:  c.SMRetry.MaxAttempts,
		},
		Sim: fileSimConfig{
			SMDelay:           c.Sim.SMDelay,
			PointerBufferSize: c.Sim.PointerBufferSize,
			Workers:           c.Sim.Workers,
			Requests:          c.Sim.Requests,
			RatePerSecond:     c.Sim.RatePerSecond,
		},
	}
	out, err := toml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("config render failed: %w", err)
	}
	return string(out), nil
}

// WriteTemplate writes the default config to path.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template(DefaultConfig())
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
