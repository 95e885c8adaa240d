// Package hosttest boots a simulated host for client tests.
package hosttest

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/nxipc/internal/hostsim"
	"github.com/danmuck/nxipc/internal/kernel/loopback"
	"github.com/danmuck/nxipc/internal/protocol/session"
	"github.com/danmuck/nxipc/internal/services/sm"
	"github.com/danmuck/nxipc/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

// FastBackoff rewrites opts so retries wait a millisecond.
func FastBackoff(opts ...session.Option) []session.Option {
	cfg := session.ResolveConfig(opts...)
	cfg.Backoff.InitialDelay = time.Millisecond
	cfg.Backoff.MaxDelay = time.Millisecond
	return []session.Option{session.WithConfig(cfg)}
}

// Boot starts a host with cfg and returns it with a connected sm client
// that is closed when the test ends.
func Boot(t *testing.T, cfg hostsim.Config) (*hostsim.Host, *sm.Client) {
	t.Helper()
	testlog.Start(t)
	k := loopback.New(zerolog.Nop())
	host, err := hostsim.Boot(k, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("boot host: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := sm.Connect(ctx, k, FastBackoff(host.ClientOptions()...)...)
	if err != nil {
		t.Fatalf("connect sm: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return host, c
}

// BootDialect is Boot with the default config in dialect d.
func BootDialect(t *testing.T, d loopback.Dialect) (*hostsim.Host, *sm.Client) {
	t.Helper()
	cfg := hostsim.DefaultConfig()
	cfg.Dialect = d
	return Boot(t, cfg)
}
