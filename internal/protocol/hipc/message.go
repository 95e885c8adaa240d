package hipc

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol"
)

// Metadata declares everything a message carries; Compose derives the
// layout from it.
type Metadata struct {
	Type           MessageType
	NumSendStatics int
	NumSendBuffers int
	NumRecvBuffers int
	NumExchBuffers int
	NumDataWords   int
	RecvStatic     RecvStaticMode
	SendPID        bool
	NumCopyHandles int
	NumMoveHandles int
}

func (m Metadata) hasSpecialHeader() bool {
	return m.SendPID || m.NumCopyHandles > 0 || m.NumMoveHandles > 0
}

// DataWordsFor sizes the data words for a raw payload of rawSize bytes,
// including the alignment budget.
func DataWordsFor(rawSize int) int {
	return (RawPadding + rawSize + DataWordSize - 1) / DataWordSize
}

type layout struct {
	pid         int
	copyHandles int
	moveHandles int
	sendStatics int
	sendBuffers int
	recvBuffers int
	exchBuffers int
	dataWords   int
	recvList    int
	end         int
}

func computeLayout(m Metadata) layout {
	var l layout
	off := HeaderSize
	if m.hasSpecialHeader() {
		off += SpecialHeaderSize
	}
	l.pid = off
	if m.SendPID {
		off += PIDSize
	}
	l.copyHandles = off
	off += m.NumCopyHandles * HandleSize
	l.moveHandles = off
	off += m.NumMoveHandles * HandleSize
	l.sendStatics = off
	off += m.NumSendStatics * StaticDescriptorSize
	l.sendBuffers = off
	off += m.NumSendBuffers * BufferDescriptorSize
	l.recvBuffers = off
	off += m.NumRecvBuffers * BufferDescriptorSize
	l.exchBuffers = off
	off += m.NumExchBuffers * BufferDescriptorSize
	l.dataWords = off
	off += m.NumDataWords * DataWordSize
	l.recvList = off
	off += m.RecvStatic.Count() * RecvListEntrySize
	l.end = off
	return l
}

func validate(m Metadata) error {
	counts := []struct {
		name string
		n    int
		max  int
	}{
		{"send statics", m.NumSendStatics, MaxDescriptors},
		{"send buffers", m.NumSendBuffers, MaxDescriptors},
		{"recv buffers", m.NumRecvBuffers, MaxDescriptors},
		{"exch buffers", m.NumExchBuffers, MaxDescriptors},
		{"copy handles", m.NumCopyHandles, MaxHandles},
		{"move handles", m.NumMoveHandles, MaxHandles},
		{"data words", m.NumDataWords, MaxDataWords},
		{"recv static mode", int(m.RecvStatic), MaxDescriptors},
	}
	for _, c := range counts {
		if c.n < 0 || c.n > c.max {
			return fmt.Errorf("hipc: %s=%d exceeds %d: %w", c.name, c.n, c.max, protocol.ErrTooManyDescriptors)
		}
	}
	return nil
}

func align16(off int) int {
	return (off + 0xF) &^ 0xF
}

// Request is the writer returned by Compose. Setters panic on an index
// outside the counts declared in Metadata.
type Request struct {
	region *kernel.Region
	buf    []byte
	meta   Metadata
	l      layout
}

// Compose writes the header for m into region and returns a writer for the
// remaining sections. The region is not reset; callers start a call with
// region.Begin first.
func Compose(region *kernel.Region, m Metadata) (*Request, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	l := computeLayout(m)
	buf := region.Bytes()
	if l.end > len(buf) {
		return nil, fmt.Errorf("hipc: layout needs %d bytes, region has %d: %w", l.end, len(buf), protocol.ErrRegionTooSmall)
	}
	Header{
		Type:             m.Type,
		NumSendStatics:   m.NumSendStatics,
		NumSendBuffers:   m.NumSendBuffers,
		NumRecvBuffers:   m.NumRecvBuffers,
		NumExchBuffers:   m.NumExchBuffers,
		NumDataWords:     m.NumDataWords,
		RecvStaticMode:   m.RecvStatic,
		HasSpecialHeader: m.hasSpecialHeader(),
	}.Encode(buf[0:HeaderSize])
	if m.hasSpecialHeader() {
		SpecialHeader{
			SendPID:        m.SendPID,
			NumCopyHandles: m.NumCopyHandles,
			NumMoveHandles: m.NumMoveHandles,
		}.Encode(buf[HeaderSize : HeaderSize+SpecialHeaderSize])
	}
	return &Request{region: region, buf: buf, meta: m, l: l}, nil
}

func (r *Request) Metadata() Metadata {
	return r.meta
}

func (r *Request) Region() *kernel.Region {
	return r.region
}

func slot(name string, i, n, base, size int) int {
	if i < 0 || i >= n {
		panic(fmt.Sprintf("hipc: %s index %d out of range %d", name, i, n))
	}
	return base + i*size
}

// SetPID fills the pid placeholder; the kernel overwrites it in flight.
func (r *Request) SetPID(pid uint64) {
	if !r.meta.SendPID {
		panic("hipc: message declares no pid")
	}
	binary.LittleEndian.PutUint64(r.buf[r.l.pid:], pid)
}

func (r *Request) SetCopyHandle(i int, h kernel.Handle) {
	off := slot("copy handle", i, r.meta.NumCopyHandles, r.l.copyHandles, HandleSize)
	binary.LittleEndian.PutUint32(r.buf[off:], uint32(h))
}

func (r *Request) SetMoveHandle(i int, h kernel.Handle) {
	off := slot("move handle", i, r.meta.NumMoveHandles, r.l.moveHandles, HandleSize)
	binary.LittleEndian.PutUint32(r.buf[off:], uint32(h))
}

func (r *Request) SetSendStatic(i int, d StaticDescriptor) {
	off := slot("send static", i, r.meta.NumSendStatics, r.l.sendStatics, StaticDescriptorSize)
	d.Encode(r.buf[off : off+StaticDescriptorSize])
}

func (r *Request) SetSendBuffer(i int, d BufferDescriptor) {
	off := slot("send buffer", i, r.meta.NumSendBuffers, r.l.sendBuffers, BufferDescriptorSize)
	d.Encode(r.buf[off : off+BufferDescriptorSize])
}

func (r *Request) SetRecvBuffer(i int, d BufferDescriptor) {
	off := slot("recv buffer", i, r.meta.NumRecvBuffers, r.l.recvBuffers, BufferDescriptorSize)
	d.Encode(r.buf[off : off+BufferDescriptorSize])
}

func (r *Request) SetExchBuffer(i int, d BufferDescriptor) {
	off := slot("exch buffer", i, r.meta.NumExchBuffers, r.l.exchBuffers, BufferDescriptorSize)
	d.Encode(r.buf[off : off+BufferDescriptorSize])
}

func (r *Request) SetRecvListEntry(i int, e RecvListEntry) {
	off := slot("recv list entry", i, r.meta.RecvStatic.Count(), r.l.recvList, RecvListEntrySize)
	e.Encode(r.buf[off : off+RecvListEntrySize])
}

// DataOffset is the offset of the data words from region start.
func (r *Request) DataOffset() int {
	return r.l.dataWords
}

func (r *Request) DataWords() []byte {
	return r.buf[r.l.dataWords:r.l.recvList]
}

// RawOffset is the first 16-byte aligned offset inside the data words.
func (r *Request) RawOffset() int {
	return align16(r.l.dataWords)
}

// Raw returns the size-byte payload span at RawOffset.
func (r *Request) Raw(size int) ([]byte, error) {
	start := r.RawOffset()
	if size < 0 || start+size > r.l.recvList {
		return nil, fmt.Errorf("hipc: raw span %d at %d exceeds data words end %d: %w", size, start, r.l.recvList, protocol.ErrTruncated)
	}
	return r.buf[start : start+size : start+size], nil
}

// Message is a parsed request or response. Data is a borrowed view of the
// region; handles and descriptors are decoded copies.
type Message struct {
	Header      Header
	Special     SpecialHeader
	PID         uint64
	CopyHandles []kernel.Handle
	MoveHandles []kernel.Handle
	SendStatics []StaticDescriptor
	SendBuffers []BufferDescriptor
	RecvBuffers []BufferDescriptor
	ExchBuffers []BufferDescriptor
	RecvList    []RecvListEntry
	Data        kernel.View

	dataOffset int
}

type reader struct {
	buf []byte
	off int
}

func (rd *reader) take(n int, what string) ([]byte, error) {
	if n < 0 || rd.off+n > len(rd.buf) {
		return nil, fmt.Errorf("hipc: %s needs %d bytes at %d, region has %d: %w", what, n, rd.off, len(rd.buf), protocol.ErrTruncated)
	}
	b := rd.buf[rd.off : rd.off+n]
	rd.off += n
	return b, nil
}

// Parse decodes the message currently held in region.
func Parse(region *kernel.Region) (*Message, error) {
	buf := region.Bytes()
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("hipc: region of %d bytes: %w", len(buf), protocol.ErrRegionTooSmall)
	}
	rd := &reader{buf: buf}
	hb, _ := rd.take(HeaderSize, "header")
	msg := &Message{Header: DecodeHeader(hb), PID: NoPID}

	if msg.Header.HasSpecialHeader {
		sb, err := rd.take(SpecialHeaderSize, "special header")
		if err != nil {
			return nil, err
		}
		msg.Special = DecodeSpecialHeader(sb)
		if msg.Special.SendPID {
			pb, err := rd.take(PIDSize, "pid")
			if err != nil {
				return nil, err
			}
			msg.PID = binary.LittleEndian.Uint64(pb)
		}
	}

	var err error
	if msg.CopyHandles, err = readHandles(rd, msg.Special.NumCopyHandles, "copy handles"); err != nil {
		return nil, err
	}
	if msg.MoveHandles, err = readHandles(rd, msg.Special.NumMoveHandles, "move handles"); err != nil {
		return nil, err
	}
	for i := 0; i < msg.Header.NumSendStatics; i++ {
		b, err := rd.take(StaticDescriptorSize, "send static")
		if err != nil {
			return nil, err
		}
		msg.SendStatics = append(msg.SendStatics, DecodeStaticDescriptor(b))
	}
	if msg.SendBuffers, err = readBuffers(rd, msg.Header.NumSendBuffers, "send buffer"); err != nil {
		return nil, err
	}
	if msg.RecvBuffers, err = readBuffers(rd, msg.Header.NumRecvBuffers, "recv buffer"); err != nil {
		return nil, err
	}
	if msg.ExchBuffers, err = readBuffers(rd, msg.Header.NumExchBuffers, "exch buffer"); err != nil {
		return nil, err
	}

	msg.dataOffset = rd.off
	dataLen := msg.Header.NumDataWords * DataWordSize
	if _, err := rd.take(dataLen, "data words"); err != nil {
		return nil, err
	}
	msg.Data = region.View(msg.dataOffset, dataLen)

	if n := msg.Header.RecvStaticMode.Count(); n > 0 {
		if msg.Header.RecvListOffset != 0 {
			rd.off = msg.Header.RecvListOffset * DataWordSize
		}
		for i := 0; i < n; i++ {
			b, err := rd.take(RecvListEntrySize, "recv list entry")
			if err != nil {
				return nil, err
			}
			msg.RecvList = append(msg.RecvList, DecodeRecvListEntry(b))
		}
	}
	return msg, nil
}

func readHandles(rd *reader, n int, what string) ([]kernel.Handle, error) {
	if n == 0 {
		return nil, nil
	}
	b, err := rd.take(n*HandleSize, what)
	if err != nil {
		return nil, err
	}
	out := make([]kernel.Handle, n)
	for i := range out {
		out[i] = kernel.Handle(binary.LittleEndian.Uint32(b[i*HandleSize:]))
	}
	return out, nil
}

func readBuffers(rd *reader, n int, what string) ([]BufferDescriptor, error) {
	var out []BufferDescriptor
	for i := 0; i < n; i++ {
		b, err := rd.take(BufferDescriptorSize, what)
		if err != nil {
			return nil, err
		}
		out = append(out, DecodeBufferDescriptor(b))
	}
	return out, nil
}

func (m *Message) DataOffset() int {
	return m.dataOffset
}

func (m *Message) RawOffset() int {
	return align16(m.dataOffset)
}

// Raw returns the size-byte span at the aligned payload offset.
func (m *Message) Raw(size int) (kernel.View, error) {
	from := m.RawOffset() - m.dataOffset
	if size < 0 || from+size > m.Data.Len() {
		return kernel.View{}, fmt.Errorf("hipc: raw span %d exceeds %d data bytes: %w", size, m.Data.Len()-from, protocol.ErrTruncated)
	}
	return m.Data.Slice(from, size), nil
}
