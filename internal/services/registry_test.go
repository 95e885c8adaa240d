package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/nxipc/internal/hostsim"
	"github.com/danmuck/nxipc/internal/kernel/loopback"
	"github.com/danmuck/nxipc/internal/services"
	"github.com/danmuck/nxipc/internal/services/apm"
	"github.com/danmuck/nxipc/internal/testutil/hosttest"
	"github.com/danmuck/nxipc/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) (*loopback.Kernel, *services.ServiceRegistry) {
	t.Helper()
	testlog.Start(t)
	k := loopback.New(zerolog.Nop())
	host, err := hostsim.Boot(k, hostsim.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	return k, services.NewServiceRegistry(k, hosttest.FastBackoff(host.ClientOptions()...)...)
}

func TestGetOrInitReturnsSameClient(t *testing.T) {
	_, r := newRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := r.APM(ctx)
	require.NoError(t, err)
	second, err := r.APM(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, []services.ServiceID{services.ServiceSM, services.ServiceAPM}, r.Initialized())

	mode, err := first.GetPerformanceMode()
	require.NoError(t, err)
	assert.Equal(t, apm.PerformanceModeNormal, mode)
	require.NoError(t, r.Close())
}

func TestCloseReleasesEverySession(t *testing.T) {
	k, r := newRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.SetSys(ctx)
	require.NoError(t, err)
	_, err = r.APM(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, k.Stats().OpenSessions)

	require.NoError(t, r.Close())
	assert.Empty(t, r.Initialized())
	st := k.Stats()
	assert.Equal(t, 0, st.OpenSessions)
	assert.Equal(t, 3, st.HandlesClosed)

	again, err := r.SetSys(ctx)
	require.NoError(t, err)
	assert.NotNil(t, again)
	require.NoError(t, r.Close())
}

func TestServiceIDNames(t *testing.T) {
	testlog.Start(t)
	names := make([]string, 0, len(services.AllServices))
	for _, id := range services.AllServices {
		names = append(names, id.String())
	}
	assert.Equal(t, []string{"sm", "apm", "set:sys"}, names)
}
