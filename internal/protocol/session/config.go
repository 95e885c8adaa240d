package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dialect selects the command serialization used on a session.
type Dialect int

const (
	DialectCMIF Dialect = iota
	DialectTIPC
)

func (d Dialect) String() string {
	switch d {
	case DialectCMIF:
		return "cmif"
	case DialectTIPC:
		return "tipc"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cmif":
		return DialectCMIF, nil
	case "tipc":
		return DialectTIPC, nil
	default:
		return DialectCMIF, fmt.Errorf("session: unknown dialect %q", raw)
	}
}

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	// MaxAttempts bounds Retry; 0 retries until the context ends.
	MaxAttempts int
}

// Config defines per-session defaults.
type Config struct {
	Dialect            Dialect
	RegionSize         int
	QueryPointerBuffer bool
	Backoff            BackoffConfig
}

// DefaultConfig polls every 50ms without growth, the cadence the service
// manager expects from clients waiting for it to come up.
func DefaultConfig() Config {
	return Config{
		Dialect:            DialectCMIF,
		RegionSize:         kernel.DefaultRegionSize,
		QueryPointerBuffer: true,
		Backoff: BackoffConfig{
			InitialDelay: 50 * time.Millisecond,
			Multiplier:   1.0,
			MaxDelay:     50 * time.Millisecond,
		},
	}
}

type options struct {
	cfg    Config
	log    zerolog.Logger
	ptrBuf *uint16
}

// Option adjusts how a Service is constructed.
type Option func(*options)

func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

func WithDialect(d Dialect) Option {
	return func(o *options) { o.cfg.Dialect = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithPointerBufferSize skips the pointer buffer query and uses n.
func WithPointerBufferSize(n uint16) Option {
	return func(o *options) { o.ptrBuf = &n }
}

func resolveOptions(opts []Option) options {
	o := options{cfg: DefaultConfig(), log: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfg.RegionSize <= 0 {
		o.cfg.RegionSize = kernel.DefaultRegionSize
	}
	return o
}

// ResolveConfig applies opts to DefaultConfig, for callers that need the
// settings a Service would be built with.
func ResolveConfig(opts ...Option) Config {
	return resolveOptions(opts).cfg
}
