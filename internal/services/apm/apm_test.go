package apm_test

import (
	"testing"

	"github.com/danmuck/nxipc/internal/kernel/loopback"
	"github.com/danmuck/nxipc/internal/services/apm"
	"github.com/danmuck/nxipc/internal/testutil/hosttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPerformanceModeNormal(t *testing.T) {
	for _, d := range []loopback.Dialect{loopback.CMIF, loopback.TIPC} {
		t.Run(d.String(), func(t *testing.T) {
			_, c := hosttest.BootDialect(t, d)
			m, err := apm.Open(c)
			require.NoError(t, err)
			defer m.Close()

			mode, err := m.GetPerformanceMode()
			require.NoError(t, err)
			assert.Equal(t, apm.PerformanceModeNormal, mode)
			assert.True(t, mode.IsValid())
		})
	}
}

func TestPerformanceModeFollowsHost(t *testing.T) {
	host, c := hosttest.BootDialect(t, loopback.CMIF)
	m, err := apm.Open(c)
	require.NoError(t, err)
	defer m.Close()

	host.SetPerformanceMode(apm.PerformanceModeBoost)
	mode, err := m.GetPerformanceMode()
	require.NoError(t, err)
	assert.Equal(t, apm.PerformanceModeBoost, mode)
	assert.Equal(t, "boost", mode.String())
}

func TestSessionConfiguration(t *testing.T) {
	for _, d := range []loopback.Dialect{loopback.CMIF, loopback.TIPC} {
		t.Run(d.String(), func(t *testing.T) {
			_, c := hosttest.BootDialect(t, d)
			m, err := apm.Open(c)
			require.NoError(t, err)
			defer m.Close()

			s, err := m.OpenSession()
			require.NoError(t, err)
			assert.False(t, s.Object().IsDomainSubservice())

			conf, err := s.GetPerformanceConfiguration(apm.PerformanceModeNormal)
			require.NoError(t, err)
			assert.Equal(t, uint32(0x00010000), conf)

			require.NoError(t, s.SetPerformanceConfiguration(apm.PerformanceModeBoost, 0x92220009))
			conf, err = s.GetPerformanceConfiguration(apm.PerformanceModeBoost)
			require.NoError(t, err)
			assert.Equal(t, uint32(0x92220009), conf)
			require.NoError(t, s.Close())
		})
	}
}

func TestSessionAsDomainObject(t *testing.T) {
	_, c := hosttest.BootDialect(t, loopback.CMIF)
	m, err := apm.Open(c)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Service().ConvertToDomain())

	first, err := m.OpenSession()
	require.NoError(t, err)
	second, err := m.OpenSession()
	require.NoError(t, err)
	assert.True(t, first.Object().IsDomainSubservice())
	assert.Equal(t, uint32(2), first.Object().ObjectID())
	assert.Equal(t, uint32(3), second.Object().ObjectID())

	require.NoError(t, first.SetPerformanceConfiguration(apm.PerformanceModeNormal, 0x00020003))
	conf, err := second.GetPerformanceConfiguration(apm.PerformanceModeNormal)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00020003), conf)

	mode, err := m.GetPerformanceMode()
	require.NoError(t, err)
	assert.Equal(t, apm.PerformanceModeNormal, mode)

	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
}
