package setsys_test

import (
	"testing"

	"github.com/danmuck/nxipc/internal/hostsim"
	"github.com/danmuck/nxipc/internal/kernel/loopback"
	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/services/setsys"
	"github.com/danmuck/nxipc/internal/testutil/hosttest"
	"github.com/danmuck/nxipc/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirmwareVersionLayout(t *testing.T) {
	testlog.Start(t)
	v := hostsim.DefaultConfig().Firmware
	b := make([]byte, setsys.FirmwareVersionSize)
	v.Encode(b)
	assert.Equal(t, byte(18), b[0])
	assert.Equal(t, byte(1), b[1])
	assert.Equal(t, "NX", string(b[0x08:0x0A]))
	assert.Equal(t, "18.1.0", string(b[0x68:0x6E]))
	assert.Equal(t, byte(0), b[0x6E])

	got, err := setsys.DecodeFirmwareVersion(b)
	require.NoError(t, err)
	assert.Equal(t, v, got)
	assert.Equal(t, "18.1.0", got.String())

	_, err = setsys.DecodeFirmwareVersion(b[:0x80])
	assert.ErrorIs(t, err, protocol.ErrTruncated)
}

func TestEncodeTruncatesLongStrings(t *testing.T) {
	testlog.Start(t)
	v := setsys.FirmwareVersion{Platform: "0123456789abcdef0123456789abcdefXYZ"}
	b := make([]byte, setsys.FirmwareVersionSize)
	v.Encode(b)
	got, err := setsys.DecodeFirmwareVersion(b)
	require.NoError(t, err)
	assert.Len(t, got.Platform, 0x1F)
}

func TestGetFirmwareVersion(t *testing.T) {
	for _, d := range []loopback.Dialect{loopback.CMIF, loopback.TIPC} {
		t.Run(d.String(), func(t *testing.T) {
			_, c := hosttest.BootDialect(t, d)
			s, err := setsys.Open(c)
			require.NoError(t, err)
			defer s.Close()

			v, err := s.GetFirmwareVersion()
			require.NoError(t, err)
			assert.Equal(t, hostsim.DefaultConfig().Firmware, v)

			legacy, err := s.GetFirmwareVersionLegacy()
			require.NoError(t, err)
			assert.Equal(t, "18.1.0", legacy.DisplayVersion)
			assert.Zero(t, legacy.RevisionMajor)
		})
	}
}
