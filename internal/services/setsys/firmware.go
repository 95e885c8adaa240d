package setsys

import (
	"bytes"
	"fmt"

	"github.com/danmuck/nxipc/internal/protocol"
)

// FirmwareVersionSize is the fixed wire size of FirmwareVersion.
const FirmwareVersionSize = 0x100

const (
	offPlatform       = 0x08
	offVersionHash    = 0x28
	offDisplayVersion = 0x68
	offDisplayTitle   = 0x80

	lenPlatform       = 0x20
	lenVersionHash    = 0x40
	lenDisplayVersion = 0x18
	lenDisplayTitle   = 0x80
)

// FirmwareVersion is the system version block. Strings are NUL terminated
// on the wire.
type FirmwareVersion struct {
	Major          uint8  `yaml:"major"`
	Minor          uint8  `yaml:"minor"`
	Patch          uint8  `yaml:"patch"`
	RevisionMajor  uint8  `yaml:"revision_major"`
	RevisionMinor  uint8  `yaml:"revision_minor"`
	Platform       string `yaml:"platform"`
	VersionHash    string `yaml:"version_hash"`
	DisplayVersion string `yaml:"display_version"`
	DisplayTitle   string `yaml:"display_title"`
}

func DecodeFirmwareVersion(b []byte) (FirmwareVersion, error) {
	if len(b) < FirmwareVersionSize {
		return FirmwareVersion{}, fmt.Errorf("setsys: firmware version of %d bytes: %w", len(b), protocol.ErrTruncated)
	}
	return FirmwareVersion{
		Major:          b[0],
		Minor:          b[1],
		Patch:          b[2],
		RevisionMajor:  b[4],
		RevisionMinor:  b[5],
		Platform:       cstring(b[offPlatform : offPlatform+lenPlatform]),
		VersionHash:    cstring(b[offVersionHash : offVersionHash+lenVersionHash]),
		DisplayVersion: cstring(b[offDisplayVersion : offDisplayVersion+lenDisplayVersion]),
		DisplayTitle:   cstring(b[offDisplayTitle : offDisplayTitle+lenDisplayTitle]),
	}, nil
}

// Encode writes v into b, which must hold FirmwareVersionSize bytes. Strings
// are truncated so a terminator always fits.
func (v FirmwareVersion) Encode(b []byte) {
	clear(b[:FirmwareVersionSize])
	b[0], b[1], b[2] = v.Major, v.Minor, v.Patch
	b[4], b[5] = v.RevisionMajor, v.RevisionMinor
	putCString(b[offPlatform:offPlatform+lenPlatform], v.Platform)
	putCString(b[offVersionHash:offVersionHash+lenVersionHash], v.VersionHash)
	putCString(b[offDisplayVersion:offDisplayVersion+lenDisplayVersion], v.DisplayVersion)
	putCString(b[offDisplayTitle:offDisplayTitle+lenDisplayTitle], v.DisplayTitle)
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func putCString(dst []byte, s string) {
	copy(dst[:len(dst)-1], s)
}
