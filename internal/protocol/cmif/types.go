package cmif

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/protocol/hipc"
)

const (
	InHeaderMagic  uint32 = 0x49434653 // "SFCI"
	OutHeaderMagic uint32 = 0x4F434653 // "SFCO"

	HeaderSize       = 16
	DomainHeaderSize = 16
	ObjectIDSize     = 4
)

var (
	ErrFormatExceeded    = errors.New("cmif: request format count exceeded")
	ErrPointerTooLarge   = errors.New("cmif: pointer buffer larger than 0xffff bytes")
	ErrNotDomainResponse = errors.New("cmif: response has no domain header")
)

// CommandType is carried in the hipc message type field.
type CommandType uint16

const (
	CommandInvalid            CommandType = 0
	CommandLegacyRequest      CommandType = 1
	CommandClose              CommandType = 2
	CommandLegacyControl      CommandType = 3
	CommandRequest            CommandType = 4
	CommandControl            CommandType = 5
	CommandRequestWithContext CommandType = 6
	CommandControlWithContext CommandType = 7
)

func (c CommandType) MessageType() hipc.MessageType {
	return hipc.MessageType(c)
}

func (c CommandType) IsRequest() bool {
	return c == CommandRequest || c == CommandRequestWithContext
}

func (c CommandType) IsControl() bool {
	return c == CommandControl || c == CommandControlWithContext
}

func (c CommandType) String() string {
	switch c {
	case CommandInvalid:
		return "invalid"
	case CommandLegacyRequest:
		return "legacy_request"
	case CommandClose:
		return "close"
	case CommandLegacyControl:
		return "legacy_control"
	case CommandRequest:
		return "request"
	case CommandControl:
		return "control"
	case CommandRequestWithContext:
		return "request_with_context"
	case CommandControlWithContext:
		return "control_with_context"
	default:
		return fmt.Sprintf("command_type(%d)", uint16(c))
	}
}

// DomainRequestType is the sub-command kind of a domain message.
type DomainRequestType uint8

const (
	DomainInvalid     DomainRequestType = 0
	DomainSendMessage DomainRequestType = 1
	DomainClose       DomainRequestType = 2
)

// Control request ids.
const (
	ControlConvertToDomain        uint32 = 0
	ControlCopyFromDomain         uint32 = 1
	ControlCloneObject            uint32 = 2
	ControlQueryPointerBufferSize uint32 = 3
	ControlCloneObjectEx          uint32 = 4
)

type InHeader struct {
	Magic     uint32
	Version   uint32
	CommandID uint32
	Token     uint32
}

func (h InHeader) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], h.Magic)
	binary.LittleEndian.PutUint32(b[4:], h.Version)
	binary.LittleEndian.PutUint32(b[8:], h.CommandID)
	binary.LittleEndian.PutUint32(b[12:], h.Token)
}

func DecodeInHeader(b []byte) InHeader {
	return InHeader{
		Magic:     binary.LittleEndian.Uint32(b[0:]),
		Version:   binary.LittleEndian.Uint32(b[4:]),
		CommandID: binary.LittleEndian.Uint32(b[8:]),
		Token:     binary.LittleEndian.Uint32(b[12:]),
	}
}

type OutHeader struct {
	Magic   uint32
	Version uint32
	Result  protocol.Result
	Token   uint32
}

func (h OutHeader) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], h.Magic)
	binary.LittleEndian.PutUint32(b[4:], h.Version)
	binary.LittleEndian.PutUint32(b[8:], uint32(h.Result))
	binary.LittleEndian.PutUint32(b[12:], h.Token)
}

func DecodeOutHeader(b []byte) OutHeader {
	return OutHeader{
		Magic:   binary.LittleEndian.Uint32(b[0:]),
		Version: binary.LittleEndian.Uint32(b[4:]),
		Result:  protocol.Result(binary.LittleEndian.Uint32(b[8:])),
		Token:   binary.LittleEndian.Uint32(b[12:]),
	}
}

// DomainInHeader precedes the command header of every message addressed to
// an object inside a domain. DataSize counts the command header plus payload.
type DomainInHeader struct {
	Type         DomainRequestType
	NumInObjects uint8
	DataSize     uint16
	ObjectID     uint32
	Token        uint32
}

func (h DomainInHeader) Encode(b []byte) {
	b[0] = byte(h.Type)
	b[1] = h.NumInObjects
	binary.LittleEndian.PutUint16(b[2:], h.DataSize)
	binary.LittleEndian.PutUint32(b[4:], h.ObjectID)
	binary.LittleEndian.PutUint32(b[8:], 0)
	binary.LittleEndian.PutUint32(b[12:], h.Token)
}

func DecodeDomainInHeader(b []byte) DomainInHeader {
	return DomainInHeader{
		Type:         DomainRequestType(b[0]),
		NumInObjects: b[1],
		DataSize:     binary.LittleEndian.Uint16(b[2:]),
		ObjectID:     binary.LittleEndian.Uint32(b[4:]),
		Token:        binary.LittleEndian.Uint32(b[12:]),
	}
}

type DomainOutHeader struct {
	NumOutObjects uint32
}

func (h DomainOutHeader) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], h.NumOutObjects)
	clear(b[4:DomainHeaderSize])
}

func DecodeDomainOutHeader(b []byte) DomainOutHeader {
	return DomainOutHeader{NumOutObjects: binary.LittleEndian.Uint32(b[0:])}
}
