package hostsim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/nxipc/internal/kernel/loopback"
	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/protocol/session"
	"github.com/danmuck/nxipc/internal/services/apm"
	"github.com/danmuck/nxipc/internal/services/setsys"
	"github.com/danmuck/nxipc/internal/services/sm"
	"github.com/rs/zerolog"
)

// Service manager result codes.
var (
	ResultInvalidClient     = protocol.MakeResult(21, 2)
	ResultAlreadyRegistered = protocol.MakeResult(21, 4)
	ResultNotRegistered     = protocol.MakeResult(21, 7)
)

var ResultBufferTooSmall = protocol.MakeResult(protocol.ModuleHomebrew, 30)

type Config struct {
	Dialect           loopback.Dialect
	PointerBufferSize uint16
	// SMDelay is how many connects to "sm:" fail before it comes up.
	SMDelay         int
	Firmware        setsys.FirmwareVersion
	PerformanceMode apm.PerformanceMode
}

func DefaultConfig() Config {
	return Config{
		Dialect:           loopback.CMIF,
		PointerBufferSize: 0x400,
		Firmware: setsys.FirmwareVersion{
			Major:          18,
			Minor:          1,
			Patch:          0,
			RevisionMajor:  1,
			Platform:       "NX",
			VersionHash:    "5a1f2e3c4b6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f",
			DisplayVersion: "18.1.0",
			DisplayTitle:   "NintendoSDK Firmware for NX 18.1.0-1.0",
		},
		PerformanceMode: apm.PerformanceModeNormal,
	}
}

// DefaultConfigurations are the performance configurations apm reports
// before anything sets them.
var DefaultConfigurations = map[apm.PerformanceMode]uint32{
	apm.PerformanceModeNormal: 0x00010000,
	apm.PerformanceModeBoost:  0x92220008,
}

// Host owns the simulated services booted on one kernel.
type Host struct {
	k   *loopback.Kernel
	log zerolog.Logger
	cfg Config

	mu       sync.Mutex
	services map[sm.ServiceName]string
	clients  int
	mode     apm.PerformanceMode
	configs  map[apm.PerformanceMode]uint32
}

// Boot registers "sm:", apm and set:sys on k.
func Boot(k *loopback.Kernel, cfg Config, log zerolog.Logger) (*Host, error) {
	h := &Host{
		k:        k,
		log:      log,
		cfg:      cfg,
		services: make(map[sm.ServiceName]string),
		mode:     cfg.PerformanceMode,
		configs:  make(map[apm.PerformanceMode]uint32),
	}
	for mode, conf := range DefaultConfigurations {
		h.configs[mode] = conf
	}
	ports := []loopback.Port{
		{Name: sm.PortName, Unavailable: cfg.SMDelay, New: h.newSM},
		{Name: apm.ServiceName.String(), New: h.newAPM},
		{Name: setsys.ServiceName.String(), New: h.newSetSys},
	}
	for _, p := range ports {
		p.Dialect = cfg.Dialect
		p.PointerBufferSize = cfg.PointerBufferSize
		if err := k.Register(p); err != nil {
			return nil, fmt.Errorf("hostsim: %w", err)
		}
	}
	h.services[apm.ServiceName] = apm.ServiceName.String()
	h.services[setsys.ServiceName] = setsys.ServiceName.String()
	log.Info().Stringer("dialect", cfg.Dialect).Int("sm_delay", cfg.SMDelay).Msg("host services booted")
	return h, nil
}

func (h *Host) Kernel() *loopback.Kernel {
	return h.k
}

// ClientOptions are the session options a client of this host needs.
func (h *Host) ClientOptions() []session.Option {
	d := session.DialectCMIF
	if h.cfg.Dialect == loopback.TIPC {
		d = session.DialectTIPC
	}
	return []session.Option{session.WithDialect(d)}
}

// SetPerformanceMode changes what apm reports, as an operation mode change
// would.
func (h *Host) SetPerformanceMode(m apm.PerformanceMode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mode = m
}

// Services lists the names sm currently resolves.
func (h *Host) Services() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.services))
	for name := range h.services {
		out = append(out, name.String())
	}
	sort.Strings(out)
	return out
}

// Clients counts registered sm clients.
func (h *Host) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}
