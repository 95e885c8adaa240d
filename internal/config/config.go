package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/nxipc/internal/protocol/session"
)

// TIPCFirmwareMajor is the first firmware whose system services speak TIPC.
const TIPCFirmwareMajor = 12

const DialectAuto = "auto"

// RetryConfig is the backoff used while waiting for the service manager.
type RetryConfig struct {
	InitialDelay time.Duration `split_words:"true"`
	Multiplier   float64       `split_words:"true"`
	MaxDelay     time.Duration `split_words:"true"`
	Jitter       bool          `split_words:"true"`
	MaxAttempts  int           `split_words:"true"`
}

// SimConfig shapes the ipcsim workload.
type SimConfig struct {
	SMDelay           int     `split_words:"true"`
	PointerBufferSize int     `split_words:"true"`
	Workers           int     `split_words:"true"`
	Requests          int     `split_words:"true"`
	RatePerSecond     float64 `split_words:"true"`
}

// Config is the resolved runtime configuration. Environment variables with
// the NXIPC_ prefix override the file; nested fields join with an underscore,
// as in NXIPC_SM_RETRY_MAX_ATTEMPTS.
type Config struct {
	Dialect            string      `split_words:"true"`
	FirmwareMajor      int         `split_words:"true"`
	RegionSize         int         `split_words:"true"`
	QueryPointerBuffer bool        `split_words:"true"`
	LogLevel           string      `split_words:"true"`
	MetricsAddr        string      `split_words:"true"`
	SMRetry            RetryConfig `split_words:"true"`
	Sim                SimConfig   `split_words:"true"`
}

func DefaultConfig() Config {
	sc := session.DefaultConfig()
	return Config{
		Dialect:            DialectAuto,
		FirmwareMajor:      18,
		RegionSize:         sc.RegionSize,
		QueryPointerBuffer: sc.QueryPointerBuffer,
		LogLevel:           "info",
		MetricsAddr:        ":9400",
		SMRetry: RetryConfig{
			InitialDelay: sc.Backoff.InitialDelay,
			Multiplier:   sc.Backoff.Multiplier,
			MaxDelay:     sc.Backoff.MaxDelay,
		},
		Sim: SimConfig{
			PointerBufferSize: 0x400,
			Workers:           4,
			Requests:          64,
			RatePerSecond:     200,
		},
	}
}

// SessionDialect resolves "auto" from the firmware version.
func (c Config) SessionDialect() (session.Dialect, error) {
	if strings.EqualFold(strings.TrimSpace(c.Dialect), DialectAuto) {
		if c.FirmwareMajor >= TIPCFirmwareMajor {
			return session.DialectTIPC, nil
		}
		return session.DialectCMIF, nil
	}
	return session.ParseDialect(c.Dialect)
}

// Session converts c into session settings.
func (c Config) Session() (session.Config, error) {
	d, err := c.SessionDialect()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Dialect:            d,
		RegionSize:         c.RegionSize,
		QueryPointerBuffer: c.QueryPointerBuffer,
		Backoff: session.BackoffConfig{
			InitialDelay: c.SMRetry.InitialDelay,
			Multiplier:   c.SMRetry.Multiplier,
			MaxDelay:     c.SMRetry.MaxDelay,
			Jitter:       c.SMRetry.Jitter,
			MaxAttempts:  c.SMRetry.MaxAttempts,
		},
	}, nil
}

func Validate(c Config) error {
	if _, err := c.SessionDialect(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.RegionSize < 0x40 || c.RegionSize > 0x10000 {
		return fmt.Errorf("config: region_size %#x outside [0x40, 0x10000]", c.RegionSize)
	}
	if c.FirmwareMajor < 0 {
		return fmt.Errorf("config: firmware_major %d is negative", c.FirmwareMajor)
	}
	if c.SMRetry.InitialDelay < 0 || c.SMRetry.MaxDelay < 0 {
		return fmt.Errorf("config: sm_retry delays must not be negative")
	}
	if c.SMRetry.Multiplier != 0 && c.SMRetry.Multiplier < 1 {
		return fmt.Errorf("config: sm_retry multiplier %.2f below 1", c.SMRetry.Multiplier)
	}
	if c.Sim.PointerBufferSize < 0 || c.Sim.PointerBufferSize > 0xFFFF {
		return fmt.Errorf("config: sim pointer_buffer_size %d outside u16", c.Sim.PointerBufferSize)
	}
	if c.Sim.Workers < 1 {
		return fmt.Errorf("config: sim workers must be at least 1")
	}
	return nil
}
