package cmif

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol/hipc"
)

// RequestFormat declares the shape of one command. ObjectID 0 targets the
// session itself; any other value wraps the command in a domain header.
type RequestFormat struct {
	ObjectID            uint32
	RequestID           uint32
	Context             uint32
	DataSize            int
	ServerPointerSize   int
	NumInAutoBuffers    int
	NumOutAutoBuffers   int
	NumInBuffers        int
	NumOutBuffers       int
	NumInOutBuffers     int
	NumInPointers       int
	NumOutPointers      int
	NumOutFixedPointers int
	NumObjects          int
	NumHandles          int
	SendPID             bool
}

// Request writes payload, buffers, objects and handles into a composed
// message. Every Add call fails with ErrFormatExceeded once the count
// declared in RequestFormat is used up.
type Request struct {
	hipc            *hipc.Request
	region          *kernel.Region
	data            []byte
	outPointerSizes []byte
	objects         []byte

	format            RequestFormat
	serverPointerSize int
	curInPointerID    int

	sendBufferIdx     int
	recvBufferIdx     int
	exchBufferIdx     int
	sendStaticIdx     int
	recvListIdx       int
	outPointerSizeIdx int
	objectIdx         int
	copyHandleIdx     int
}

// MakeRequest starts a new call on region and lays out f.
func MakeRequest(region *kernel.Region, f RequestFormat) (*Request, error) {
	region.Begin()

	actual := hipc.RawPadding
	if f.ObjectID != 0 {
		actual += DomainHeaderSize + f.NumObjects*ObjectIDSize
	}
	actual += HeaderSize + f.DataSize
	actual = (actual + 1) &^ 1
	outPtrTableOffset := actual
	outPtrTableCount := f.NumOutAutoBuffers + f.NumOutPointers
	actual += 2 * outPtrTableCount

	cmdType := CommandRequest
	if f.Context != 0 {
		cmdType = CommandRequestWithContext
	}
	recvStatics := outPtrTableCount + f.NumOutFixedPointers
	if recvStatics > hipc.MaxRecvStatics {
		return nil, fmt.Errorf("cmif: %d receive statics: %w", recvStatics, ErrFormatExceeded)
	}
	if f.ObjectID != 0 {
		if f.NumObjects > 0xFF {
			return nil, fmt.Errorf("cmif: %d domain in objects: %w", f.NumObjects, ErrFormatExceeded)
		}
		if HeaderSize+f.DataSize > 0xFFFF {
			return nil, fmt.Errorf("cmif: domain payload of %d bytes: %w", HeaderSize+f.DataSize, ErrFormatExceeded)
		}
	}

	req, err := hipc.Compose(region, hipc.Metadata{
		Type:           cmdType.MessageType(),
		NumSendStatics: f.NumInAutoBuffers + f.NumInPointers,
		NumSendBuffers: f.NumInAutoBuffers + f.NumInBuffers,
		NumRecvBuffers: f.NumOutAutoBuffers + f.NumOutBuffers,
		NumExchBuffers: f.NumInOutBuffers,
		NumDataWords:   (actual + 3) / 4,
		RecvStatic:     hipc.RecvStaticExplicit(recvStatics),
		SendPID:        f.SendPID,
		NumCopyHandles: f.NumHandles,
	})
	if err != nil {
		return nil, fmt.Errorf("cmif: compose request %d: %w", f.RequestID, err)
	}

	buf := region.Bytes()
	off := req.RawOffset()
	out := &Request{
		hipc:              req,
		region:            region,
		format:            f,
		serverPointerSize: f.ServerPointerSize,
	}
	hdr := InHeader{Magic: InHeaderMagic, CommandID: f.RequestID, Token: f.Context}
	if f.Context != 0 {
		hdr.Version = 1
	}
	if f.ObjectID != 0 {
		payload := HeaderSize + f.DataSize
		DomainInHeader{
			Type:         DomainSendMessage,
			NumInObjects: uint8(f.NumObjects),
			DataSize:     uint16(payload),
			ObjectID:     f.ObjectID,
			Token:        f.Context,
		}.Encode(buf[off:])
		off += DomainHeaderSize
		hdr.Token = 0
		objOff := off + payload
		out.objects = buf[objOff : objOff+f.NumObjects*ObjectIDSize]
	}
	hdr.Encode(buf[off:])
	off += HeaderSize
	out.data = buf[off : off+f.DataSize : off+f.DataSize]

	tableOff := req.DataOffset() + outPtrTableOffset
	out.outPointerSizes = buf[tableOff : tableOff+2*outPtrTableCount]
	return out, nil
}

func (r *Request) Format() RequestFormat {
	return r.format
}

// Data is the raw payload span following the command header.
func (r *Request) Data() []byte {
	return r.data
}

func (r *Request) AddInBuffer(buf []byte, mode hipc.BufferMode) error {
	if r.sendBufferIdx >= r.hipc.Metadata().NumSendBuffers {
		return fmt.Errorf("cmif: in buffer %d: %w", r.sendBufferIdx, ErrFormatExceeded)
	}
	r.hipc.SetSendBuffer(r.sendBufferIdx, r.bufferDescriptor(buf, mode))
	r.sendBufferIdx++
	return nil
}

func (r *Request) AddOutBuffer(buf []byte, mode hipc.BufferMode) error {
	if r.recvBufferIdx >= r.hipc.Metadata().NumRecvBuffers {
		return fmt.Errorf("cmif: out buffer %d: %w", r.recvBufferIdx, ErrFormatExceeded)
	}
	r.hipc.SetRecvBuffer(r.recvBufferIdx, r.bufferDescriptor(buf, mode))
	r.recvBufferIdx++
	return nil
}

func (r *Request) AddInOutBuffer(buf []byte, mode hipc.BufferMode) error {
	if r.exchBufferIdx >= r.hipc.Metadata().NumExchBuffers {
		return fmt.Errorf("cmif: inout buffer %d: %w", r.exchBufferIdx, ErrFormatExceeded)
	}
	r.hipc.SetExchBuffer(r.exchBufferIdx, r.bufferDescriptor(buf, mode))
	r.exchBufferIdx++
	return nil
}

// AddInPointer sends buf through the server's pointer buffer.
func (r *Request) AddInPointer(buf []byte) error {
	if r.sendStaticIdx >= r.hipc.Metadata().NumSendStatics {
		return fmt.Errorf("cmif: in pointer %d: %w", r.sendStaticIdx, ErrFormatExceeded)
	}
	if len(buf) > 0xFFFF {
		return fmt.Errorf("cmif: in pointer of %d bytes: %w", len(buf), ErrPointerTooLarge)
	}
	r.hipc.SetSendStatic(r.sendStaticIdx, hipc.StaticDescriptor{
		Index:   r.curInPointerID,
		Address: r.region.Map(buf),
		Size:    len(buf),
	})
	r.sendStaticIdx++
	r.curInPointerID++
	r.consumePointerBuffer(len(buf))
	return nil
}

func (r *Request) AddOutFixedPointer(buf []byte) error {
	if r.recvListIdx >= r.hipc.Metadata().RecvStatic.Count() {
		return fmt.Errorf("cmif: out pointer %d: %w", r.recvListIdx, ErrFormatExceeded)
	}
	if len(buf) > 0xFFFF {
		return fmt.Errorf("cmif: out pointer of %d bytes: %w", len(buf), ErrPointerTooLarge)
	}
	r.hipc.SetRecvListEntry(r.recvListIdx, hipc.RecvListEntry{Address: r.region.Map(buf), Size: len(buf)})
	r.recvListIdx++
	r.consumePointerBuffer(len(buf))
	return nil
}

// AddOutPointer is AddOutFixedPointer plus an entry in the out pointer size
// table.
func (r *Request) AddOutPointer(buf []byte) error {
	if r.outPointerSizeIdx*2 >= len(r.outPointerSizes) {
		return fmt.Errorf("cmif: out pointer size %d: %w", r.outPointerSizeIdx, ErrFormatExceeded)
	}
	if err := r.AddOutFixedPointer(buf); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(r.outPointerSizes[r.outPointerSizeIdx*2:], uint16(len(buf)))
	r.outPointerSizeIdx++
	return nil
}

// AddInAutoBuffer uses the pointer buffer when buf fits in what remains of
// it, otherwise a map-alias buffer. The unused slot gets a null descriptor.
func (r *Request) AddInAutoBuffer(buf []byte, mode hipc.BufferMode) error {
	if r.fitsPointerBuffer(len(buf)) {
		if err := r.AddInPointer(buf); err != nil {
			return err
		}
		return r.AddInBuffer(nil, mode)
	}
	if err := r.AddInPointer(nil); err != nil {
		return err
	}
	return r.AddInBuffer(buf, mode)
}

func (r *Request) AddOutAutoBuffer(buf []byte, mode hipc.BufferMode) error {
	if r.fitsPointerBuffer(len(buf)) {
		if err := r.AddOutPointer(buf); err != nil {
			return err
		}
		return r.AddOutBuffer(nil, mode)
	}
	if err := r.AddOutPointer(nil); err != nil {
		return err
	}
	return r.AddOutBuffer(buf, mode)
}

// AddObject passes a domain object id as an input object.
func (r *Request) AddObject(id uint32) error {
	if r.objectIdx*ObjectIDSize >= len(r.objects) {
		return fmt.Errorf("cmif: object %d: %w", r.objectIdx, ErrFormatExceeded)
	}
	binary.LittleEndian.PutUint32(r.objects[r.objectIdx*ObjectIDSize:], id)
	r.objectIdx++
	return nil
}

// AddHandle copies h to the server.
func (r *Request) AddHandle(h kernel.Handle) error {
	if r.copyHandleIdx >= r.hipc.Metadata().NumCopyHandles {
		return fmt.Errorf("cmif: handle %d: %w", r.copyHandleIdx, ErrFormatExceeded)
	}
	r.hipc.SetCopyHandle(r.copyHandleIdx, h)
	r.copyHandleIdx++
	return nil
}

func (r *Request) bufferDescriptor(buf []byte, mode hipc.BufferMode) hipc.BufferDescriptor {
	return hipc.BufferDescriptor{
		Address: r.region.Map(buf),
		Size:    uint64(len(buf)),
		Mode:    mode,
	}
}

func (r *Request) fitsPointerBuffer(n int) bool {
	return r.serverPointerSize > 0 && n <= r.serverPointerSize
}

func (r *Request) consumePointerBuffer(n int) {
	r.serverPointerSize -= n
	if r.serverPointerSize < 0 {
		r.serverPointerSize = 0
	}
}

// MakeControlRequest starts a control command and returns its size-byte
// payload span.
func MakeControlRequest(region *kernel.Region, requestID uint32, size int) ([]byte, error) {
	region.Begin()
	req, err := hipc.Compose(region, hipc.Metadata{
		Type:         CommandControl.MessageType(),
		NumDataWords: (hipc.RawPadding + HeaderSize + size + 3) / 4,
	})
	if err != nil {
		return nil, fmt.Errorf("cmif: compose control %d: %w", requestID, err)
	}
	buf := region.Bytes()
	off := req.RawOffset()
	InHeader{Magic: InHeaderMagic, CommandID: requestID}.Encode(buf[off:])
	off += HeaderSize
	return buf[off : off+size : off+size], nil
}

// MakeCloseRequest starts a close of the session (objectID 0) or of one
// domain object.
func MakeCloseRequest(region *kernel.Region, objectID uint32) error {
	region.Begin()
	if objectID == 0 {
		_, err := hipc.Compose(region, hipc.Metadata{Type: CommandClose.MessageType()})
		return err
	}
	req, err := hipc.Compose(region, hipc.Metadata{
		Type:         CommandRequest.MessageType(),
		NumDataWords: (hipc.RawPadding + DomainHeaderSize) / 4,
	})
	if err != nil {
		return err
	}
	DomainInHeader{Type: DomainClose, ObjectID: objectID}.Encode(region.Bytes()[req.RawOffset():])
	return nil
}
