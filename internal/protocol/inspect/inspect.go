// Package inspect decodes a raw message region into a readable report for
// debugging captured traffic.
package inspect

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/protocol/cmif"
	"github.com/danmuck/nxipc/internal/protocol/hipc"
	"github.com/danmuck/nxipc/internal/protocol/session"
	"github.com/danmuck/nxipc/internal/protocol/tipc"
	"github.com/goccy/go-yaml"
)

var ErrEmptyInput = errors.New("inspect: no message bytes")

// Options says how to read the region. HIPC framing is self-describing; the
// dialect layer inside it is not.
type Options struct {
	Dialect  session.Dialect
	Response bool
	// Domain reads CMIF messages with domain headers.
	Domain bool
}

type Report struct {
	Dialect   string      `yaml:"dialect"`
	Direction string      `yaml:"direction"`
	HIPC      HIPCReport  `yaml:"hipc"`
	CMIF      *CMIFReport `yaml:"cmif,omitempty"`
	TIPC      *TIPCReport `yaml:"tipc,omitempty"`
	Error     string      `yaml:"error,omitempty"`
}

type HIPCReport struct {
	Type        uint16       `yaml:"type"`
	PID         *uint64      `yaml:"pid,omitempty"`
	CopyHandles []string     `yaml:"copy_handles,omitempty"`
	MoveHandles []string     `yaml:"move_handles,omitempty"`
	Statics     []Descriptor `yaml:"send_statics,omitempty"`
	Send        []Descriptor `yaml:"send_buffers,omitempty"`
	Recv        []Descriptor `yaml:"recv_buffers,omitempty"`
	Exch        []Descriptor `yaml:"exch_buffers,omitempty"`
	RecvList    []Descriptor `yaml:"recv_list,omitempty"`
	DataWords   int          `yaml:"data_words"`
}

type Descriptor struct {
	Index   *int   `yaml:"index,omitempty"`
	Address string `yaml:"address"`
	Size    uint64 `yaml:"size"`
	Mode    string `yaml:"mode,omitempty"`
}

type CMIFReport struct {
	CommandType string      `yaml:"command_type"`
	Domain      *DomainInfo `yaml:"domain,omitempty"`
	Magic       string      `yaml:"magic,omitempty"`
	Version     uint32      `yaml:"version"`
	CommandID   *uint32     `yaml:"command_id,omitempty"`
	Result      string      `yaml:"result,omitempty"`
	Token       uint32      `yaml:"token"`
	Payload     string      `yaml:"payload,omitempty"`
	Objects     []uint32    `yaml:"objects,omitempty"`
}

type DomainInfo struct {
	Type       uint8  `yaml:"type"`
	ObjectID   uint32 `yaml:"object_id,omitempty"`
	NumObjects int    `yaml:"num_objects"`
	DataSize   uint16 `yaml:"data_size,omitempty"`
}

type TIPCReport struct {
	CommandID *uint32 `yaml:"command_id,omitempty"`
	Close     bool    `yaml:"close,omitempty"`
	Result    string  `yaml:"result,omitempty"`
	Empty     bool    `yaml:"empty,omitempty"`
	Payload   string  `yaml:"payload,omitempty"`
}

// ParseHex accepts hex with optional whitespace, commas and 0x prefixes.
func ParseHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, "0x", "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t', ',', ':':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, ErrEmptyInput
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("inspect: %w", err)
	}
	return b, nil
}

// Decode parses raw as one message. A failure in the HIPC framing is
// returned as an error; a failure in the dialect layer is kept in
// Report.Error next to the framing that did parse.
func Decode(raw []byte, o Options) (*Report, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyInput
	}
	region := kernel.NewRegion(len(raw))
	copy(region.Bytes(), raw)
	msg, err := hipc.Parse(region)
	if err != nil {
		return nil, err
	}

	rep := &Report{Dialect: o.Dialect.String(), Direction: "request", HIPC: hipcReport(msg)}
	if o.Response {
		rep.Direction = "response"
	}
	switch {
	case o.Dialect == session.DialectTIPC:
		rep.TIPC, err = tipcReport(msg, o.Response)
	case o.Response:
		rep.CMIF, err = cmifResponse(msg, o.Domain)
	default:
		rep.CMIF, err = cmifRequest(region, o.Domain)
	}
	if err != nil {
		rep.Error = err.Error()
	}
	return rep, nil
}

func hipcReport(msg *hipc.Message) HIPCReport {
	h := HIPCReport{
		Type:        uint16(msg.Header.Type),
		CopyHandles: handles(msg.CopyHandles),
		MoveHandles: handles(msg.MoveHandles),
		DataWords:   msg.Header.NumDataWords,
	}
	if msg.PID != hipc.NoPID {
		pid := msg.PID
		h.PID = &pid
	}
	for _, d := range msg.SendStatics {
		idx := d.Index
		h.Statics = append(h.Statics, Descriptor{Index: &idx, Address: addr(d.Address), Size: uint64(d.Size)})
	}
	h.Send = buffers(msg.SendBuffers)
	h.Recv = buffers(msg.RecvBuffers)
	h.Exch = buffers(msg.ExchBuffers)
	for _, e := range msg.RecvList {
		h.RecvList = append(h.RecvList, Descriptor{Address: addr(e.Address), Size: uint64(e.Size)})
	}
	return h
}

func handles(hs []kernel.Handle) []string {
	var out []string
	for _, h := range hs {
		out = append(out, h.String())
	}
	return out
}

func buffers(ds []hipc.BufferDescriptor) []Descriptor {
	var out []Descriptor
	for _, d := range ds {
		out = append(out, Descriptor{Address: addr(d.Address), Size: d.Size, Mode: d.Mode.String()})
	}
	return out
}

func addr(a uint64) string {
	return fmt.Sprintf("%#x", a)
}

func cmifRequest(region *kernel.Region, domain bool) (*CMIFReport, error) {
	req, err := cmif.ParseRequest(region, domain)
	if err != nil {
		return nil, err
	}
	rep := &CMIFReport{CommandType: req.Type.String()}
	if req.Domain != nil {
		rep.Domain = &DomainInfo{
			Type:       uint8(req.Domain.Type),
			ObjectID:   req.Domain.ObjectID,
			NumObjects: int(req.Domain.NumInObjects),
			DataSize:   req.Domain.DataSize,
		}
	}
	if req.IsClose() {
		return rep, nil
	}
	id := req.Header.CommandID
	rep.Magic = fmt.Sprintf("%#x", req.Header.Magic)
	rep.Version = req.Header.Version
	rep.CommandID = &id
	rep.Token = req.Header.Token
	rep.Payload = hex.EncodeToString(req.Payload.Bytes())
	rep.Objects = req.InObjects
	return rep, nil
}

func cmifResponse(msg *hipc.Message, domain bool) (*CMIFReport, error) {
	rep := &CMIFReport{CommandType: cmif.CommandType(msg.Header.Type).String()}
	from := msg.RawOffset() - msg.DataOffset()
	if from > msg.Data.Len() {
		return rep, fmt.Errorf("cmif: no payload after alignment: %w", protocol.ErrTruncated)
	}
	raw := msg.Data.Bytes()[from:]
	// Replies reserve RawPadding bytes for alignment; the unused part
	// trails the payload.
	if slack := hipc.RawPadding - from; slack > 0 && slack <= len(raw) {
		raw = raw[:len(raw)-slack]
	}

	numObjects := 0
	if domain {
		if len(raw) < cmif.DomainHeaderSize {
			return rep, fmt.Errorf("cmif: domain out header: %w", protocol.ErrTruncated)
		}
		numObjects = int(cmif.DecodeDomainOutHeader(raw).NumOutObjects)
		rep.Domain = &DomainInfo{NumObjects: numObjects}
		raw = raw[cmif.DomainHeaderSize:]
	}
	if len(raw) < cmif.HeaderSize {
		return rep, fmt.Errorf("cmif: out header: %w", protocol.ErrTruncated)
	}
	hdr := cmif.DecodeOutHeader(raw)
	rep.Magic = fmt.Sprintf("%#x", hdr.Magic)
	rep.Version = hdr.Version
	rep.Result = hdr.Result.String()
	rep.Token = hdr.Token
	if hdr.Magic != cmif.OutHeaderMagic {
		return rep, fmt.Errorf("cmif: out header magic %#x: %w", hdr.Magic, protocol.ErrInvalidMagic)
	}
	raw = raw[cmif.HeaderSize:]

	// Domain out objects trail the payload, whose size the reply does not
	// carry, so they are read from the end of the data words.
	if tail := numObjects * cmif.ObjectIDSize; numObjects > 0 && tail <= len(raw) {
		objs := raw[len(raw)-tail:]
		for i := 0; i < numObjects; i++ {
			rep.Objects = append(rep.Objects, binary.LittleEndian.Uint32(objs[i*cmif.ObjectIDSize:]))
		}
		raw = raw[:len(raw)-tail]
	}
	rep.Payload = hex.EncodeToString(raw)
	return rep, nil
}

func tipcReport(msg *hipc.Message, response bool) (*TIPCReport, error) {
	rep := &TIPCReport{}
	data := msg.Data.Bytes()
	if response {
		if len(data) == 0 {
			rep.Empty = true
			rep.Result = protocol.ResultNotFound.String()
			return rep, nil
		}
		if len(data) < 4 {
			return rep, fmt.Errorf("tipc: result word: %w", protocol.ErrTruncated)
		}
		rep.Result = protocol.Result(binary.LittleEndian.Uint32(data)).String()
		rep.Payload = hex.EncodeToString(data[4:])
		return rep, nil
	}
	switch t := msg.Header.Type; {
	case t == tipc.MessageClose:
		rep.Close = true
	case t >= tipc.CommandOffset:
		id := uint32(t) - tipc.CommandOffset
		rep.CommandID = &id
		rep.Payload = hex.EncodeToString(data)
	default:
		return rep, fmt.Errorf("tipc: message type %d is not a tipc command: %w", t, protocol.ErrInvalidMagic)
	}
	return rep, nil
}

func (r *Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// Text renders the report as indented key/value lines.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", r.Dialect, r.Direction)
	h := r.HIPC
	fmt.Fprintf(&b, "  hipc type=%d data_words=%d", h.Type, h.DataWords)
	if h.PID != nil {
		fmt.Fprintf(&b, " pid=%d", *h.PID)
	}
	b.WriteString("\n")
	if len(h.CopyHandles) > 0 {
		fmt.Fprintf(&b, "  copy handles: %s\n", strings.Join(h.CopyHandles, " "))
	}
	if len(h.MoveHandles) > 0 {
		fmt.Fprintf(&b, "  move handles: %s\n", strings.Join(h.MoveHandles, " "))
	}
	writeDescriptors(&b, "X", h.Statics)
	writeDescriptors(&b, "A", h.Send)
	writeDescriptors(&b, "B", h.Recv)
	writeDescriptors(&b, "W", h.Exch)
	writeDescriptors(&b, "C", h.RecvList)

	if c := r.CMIF; c != nil {
		fmt.Fprintf(&b, "  cmif %s", c.CommandType)
		if c.Domain != nil {
			fmt.Fprintf(&b, " domain(type=%d object=%d objects=%d)", c.Domain.Type, c.Domain.ObjectID, c.Domain.NumObjects)
		}
		if c.CommandID != nil {
			fmt.Fprintf(&b, " cmd=%d", *c.CommandID)
		}
		if c.Result != "" {
			fmt.Fprintf(&b, " result=%s", c.Result)
		}
		if c.Magic != "" {
			fmt.Fprintf(&b, " token=%d", c.Token)
		}
		b.WriteString("\n")
		if len(c.Objects) > 0 {
			fmt.Fprintf(&b, "  objects: %v\n", c.Objects)
		}
		if c.Payload != "" {
			fmt.Fprintf(&b, "  payload: %s\n", c.Payload)
		}
	}
	if t := r.TIPC; t != nil {
		b.WriteString("  tipc")
		switch {
		case t.Close:
			b.WriteString(" close")
		case t.CommandID != nil:
			fmt.Fprintf(&b, " cmd=%d", *t.CommandID)
		}
		if t.Result != "" {
			fmt.Fprintf(&b, " result=%s", t.Result)
		}
		if t.Empty {
			b.WriteString(" (empty)")
		}
		b.WriteString("\n")
		if t.Payload != "" {
			fmt.Fprintf(&b, "  payload: %s\n", t.Payload)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", r.Error)
	}
	return b.String()
}

func writeDescriptors(b *strings.Builder, kind string, ds []Descriptor) {
	for i, d := range ds {
		fmt.Fprintf(b, "  %s[%d] addr=%s size=%#x", kind, i, d.Address, d.Size)
		if d.Mode != "" {
			fmt.Fprintf(b, " mode=%s", d.Mode)
		}
		b.WriteString("\n")
	}
}
