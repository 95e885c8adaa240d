package hipc

import (
	"encoding/binary"
	"fmt"
)

const (
	HeaderSize           = 8
	SpecialHeaderSize    = 4
	PIDSize              = 8
	HandleSize           = 4
	StaticDescriptorSize = 8
	BufferDescriptorSize = 12
	RecvListEntrySize    = 8
	DataWordSize         = 4

	// RawPadding is the alignment budget dialects reserve ahead of the raw
	// payload inside the data words.
	RawPadding = 16

	MaxDescriptors = 1<<4 - 1
	MaxHandles     = 1<<4 - 1
	MaxDataWords   = 1<<10 - 1
	MaxRecvStatics = MaxDescriptors - 2
)

// NoPID is reported when a message carries no pid.
const NoPID uint64 = ^uint64(0)

// MessageType is the 16-bit command type field. CMIF stores its command
// type here; TIPC stores the command id plus 16.
type MessageType uint16

// BufferMode is the memory-state requirement attached to A/B/W descriptors.
type BufferMode uint8

const (
	ModeNormal BufferMode = iota
	ModeNonSecure
	ModeInvalid
	ModeNonDevice
)

func (m BufferMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeNonSecure:
		return "non-secure"
	case ModeInvalid:
		return "invalid"
	case ModeNonDevice:
		return "non-device"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// RecvStaticMode is the raw 4-bit receive-list mode: 0 none, 2 one inline
// entry, 2+n an explicit list of n entries.
type RecvStaticMode uint8

const (
	RecvStaticNone RecvStaticMode = 0
	RecvStaticAuto RecvStaticMode = 2
)

func RecvStaticExplicit(n int) RecvStaticMode {
	if n <= 0 {
		return RecvStaticNone
	}
	return RecvStaticMode(2 + n)
}

// Count is the number of receive-list entries the mode lays out.
func (m RecvStaticMode) Count() int {
	switch {
	case m < 2:
		return 0
	case m == RecvStaticAuto:
		return 1
	default:
		return int(m) - 2
	}
}

// Header is the first two words of every message.
type Header struct {
	Type             MessageType
	NumSendStatics   int
	NumSendBuffers   int
	NumRecvBuffers   int
	NumExchBuffers   int
	NumDataWords     int
	RecvStaticMode   RecvStaticMode
	RecvListOffset   int
	HasSpecialHeader bool
}

func (h Header) Encode(b []byte) {
	w0 := uint32(h.Type) |
		uint32(h.NumSendStatics&0xF)<<16 |
		uint32(h.NumSendBuffers&0xF)<<20 |
		uint32(h.NumRecvBuffers&0xF)<<24 |
		uint32(h.NumExchBuffers&0xF)<<28
	w1 := uint32(h.NumDataWords&0x3FF) |
		uint32(h.RecvStaticMode&0xF)<<10 |
		uint32(h.RecvListOffset&0x7FF)<<20
	if h.HasSpecialHeader {
		w1 |= 1 << 31
	}
	binary.LittleEndian.PutUint32(b[0:4], w0)
	binary.LittleEndian.PutUint32(b[4:8], w1)
}

func DecodeHeader(b []byte) Header {
	w0 := binary.LittleEndian.Uint32(b[0:4])
	w1 := binary.LittleEndian.Uint32(b[4:8])
	return Header{
		Type:             MessageType(w0 & 0xFFFF),
		NumSendStatics:   int(w0 >> 16 & 0xF),
		NumSendBuffers:   int(w0 >> 20 & 0xF),
		NumRecvBuffers:   int(w0 >> 24 & 0xF),
		NumExchBuffers:   int(w0 >> 28 & 0xF),
		NumDataWords:     int(w1 & 0x3FF),
		RecvStaticMode:   RecvStaticMode(w1 >> 10 & 0xF),
		RecvListOffset:   int(w1 >> 20 & 0x7FF),
		HasSpecialHeader: w1>>31 != 0,
	}
}

// SpecialHeader follows the header when a pid or handles are transferred.
type SpecialHeader struct {
	SendPID        bool
	NumCopyHandles int
	NumMoveHandles int
}

func (s SpecialHeader) Encode(b []byte) {
	var w uint32
	if s.SendPID {
		w = 1
	}
	w |= uint32(s.NumCopyHandles&0xF) << 1
	w |= uint32(s.NumMoveHandles&0xF) << 5
	binary.LittleEndian.PutUint32(b[0:4], w)
}

func DecodeSpecialHeader(b []byte) SpecialHeader {
	w := binary.LittleEndian.Uint32(b[0:4])
	return SpecialHeader{
		SendPID:        w&1 != 0,
		NumCopyHandles: int(w >> 1 & 0xF),
		NumMoveHandles: int(w >> 5 & 0xF),
	}
}

// StaticDescriptor is an X descriptor: a pointer-buffer transfer.
type StaticDescriptor struct {
	Index   int
	Address uint64
	Size    int
}

func (d StaticDescriptor) Encode(b []byte) {
	w0 := uint32(d.Index&0x3F) |
		uint32(d.Address>>36&0x3F)<<6 |
		uint32(d.Address>>32&0xF)<<12 |
		uint32(d.Size&0xFFFF)<<16
	binary.LittleEndian.PutUint32(b[0:4], w0)
	binary.LittleEndian.PutUint32(b[4:8], uint32(d.Address))
}

func DecodeStaticDescriptor(b []byte) StaticDescriptor {
	w0 := binary.LittleEndian.Uint32(b[0:4])
	lo := binary.LittleEndian.Uint32(b[4:8])
	addr := uint64(lo) |
		uint64(w0>>12&0xF)<<32 |
		uint64(w0>>6&0x3F)<<36
	return StaticDescriptor{
		Index:   int(w0 & 0x3F),
		Address: addr,
		Size:    int(w0 >> 16),
	}
}

// BufferDescriptor is an A, B or W descriptor: a map-alias transfer.
type BufferDescriptor struct {
	Address uint64
	Size    uint64
	Mode    BufferMode
}

func (d BufferDescriptor) Encode(b []byte) {
	w2 := uint32(d.Mode&0x3) |
		uint32(d.Address>>36&0x3FFFFF)<<2 |
		uint32(d.Size>>32&0xF)<<24 |
		uint32(d.Address>>32&0xF)<<28
	binary.LittleEndian.PutUint32(b[0:4], uint32(d.Size))
	binary.LittleEndian.PutUint32(b[4:8], uint32(d.Address))
	binary.LittleEndian.PutUint32(b[8:12], w2)
}

func DecodeBufferDescriptor(b []byte) BufferDescriptor {
	sizeLo := binary.LittleEndian.Uint32(b[0:4])
	addrLo := binary.LittleEndian.Uint32(b[4:8])
	w2 := binary.LittleEndian.Uint32(b[8:12])
	return BufferDescriptor{
		Address: uint64(addrLo) | uint64(w2>>28&0xF)<<32 | uint64(w2>>2&0x3FFFFF)<<36,
		Size:    uint64(sizeLo) | uint64(w2>>24&0xF)<<32,
		Mode:    BufferMode(w2 & 0x3),
	}
}

// RecvListEntry is a C descriptor: where the server may write a pointer
// transfer back to the client.
type RecvListEntry struct {
	Address uint64
	Size    int
}

func (e RecvListEntry) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(e.Address))
	w1 := uint32(e.Address>>32&0xFFFF) | uint32(e.Size&0xFFFF)<<16
	binary.LittleEndian.PutUint32(b[4:8], w1)
}

func DecodeRecvListEntry(b []byte) RecvListEntry {
	lo := binary.LittleEndian.Uint32(b[0:4])
	w1 := binary.LittleEndian.Uint32(b[4:8])
	return RecvListEntry{
		Address: uint64(lo) | uint64(w1&0xFFFF)<<32,
		Size:    int(w1 >> 16),
	}
}
