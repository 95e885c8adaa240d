package tipc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/protocol/hipc"
)

const (
	// CommandOffset is added to a command id to form the message type.
	CommandOffset = 16

	MessageClose hipc.MessageType = 15

	resultSize = 4
)

var ErrFormatExceeded = errors.New("tipc: request format count exceeded")

// MessageTypeFor returns the message type carrying command id.
func MessageTypeFor(id uint32) hipc.MessageType {
	return hipc.MessageType(id + CommandOffset)
}

type RequestFormat struct {
	RequestID       uint32
	DataSize        int
	NumInBuffers    int
	NumOutBuffers   int
	NumInOutBuffers int
	NumHandles      int
	SendPID         bool
}

// Request writes payload, buffers and handles into a composed message.
type Request struct {
	hipc   *hipc.Request
	region *kernel.Region
	data   []byte

	sendBufferIdx int
	recvBufferIdx int
	exchBufferIdx int
	copyHandleIdx int
}

// MakeRequest starts a new call on region and lays out f.
func MakeRequest(region *kernel.Region, f RequestFormat) (*Request, error) {
	region.Begin()
	req, err := hipc.Compose(region, hipc.Metadata{
		Type:           MessageTypeFor(f.RequestID),
		NumSendBuffers: f.NumInBuffers,
		NumRecvBuffers: f.NumOutBuffers,
		NumExchBuffers: f.NumInOutBuffers,
		NumDataWords:   (f.DataSize + 3) / 4,
		SendPID:        f.SendPID,
		NumCopyHandles: f.NumHandles,
	})
	if err != nil {
		return nil, fmt.Errorf("tipc: compose request %d: %w", f.RequestID, err)
	}
	off := req.DataOffset()
	buf := region.Bytes()
	return &Request{
		hipc:   req,
		region: region,
		data:   buf[off : off+f.DataSize : off+f.DataSize],
	}, nil
}

func (r *Request) Data() []byte {
	return r.data
}

func (r *Request) AddInBuffer(buf []byte, mode hipc.BufferMode) error {
	if r.sendBufferIdx >= r.hipc.Metadata().NumSendBuffers {
		return fmt.Errorf("tipc: in buffer %d: %w", r.sendBufferIdx, ErrFormatExceeded)
	}
	r.hipc.SetSendBuffer(r.sendBufferIdx, r.descriptor(buf, mode))
	r.sendBufferIdx++
	return nil
}

func (r *Request) AddOutBuffer(buf []byte, mode hipc.BufferMode) error {
	if r.recvBufferIdx >= r.hipc.Metadata().NumRecvBuffers {
		return fmt.Errorf("tipc: out buffer %d: %w", r.recvBufferIdx, ErrFormatExceeded)
	}
	r.hipc.SetRecvBuffer(r.recvBufferIdx, r.descriptor(buf, mode))
	r.recvBufferIdx++
	return nil
}

func (r *Request) AddInOutBuffer(buf []byte, mode hipc.BufferMode) error {
	if r.exchBufferIdx >= r.hipc.Metadata().NumExchBuffers {
		return fmt.Errorf("tipc: inout buffer %d: %w", r.exchBufferIdx, ErrFormatExceeded)
	}
	r.hipc.SetExchBuffer(r.exchBufferIdx, r.descriptor(buf, mode))
	r.exchBufferIdx++
	return nil
}

func (r *Request) AddHandle(h kernel.Handle) error {
	if r.copyHandleIdx >= r.hipc.Metadata().NumCopyHandles {
		return fmt.Errorf("tipc: handle %d: %w", r.copyHandleIdx, ErrFormatExceeded)
	}
	r.hipc.SetCopyHandle(r.copyHandleIdx, h)
	r.copyHandleIdx++
	return nil
}

func (r *Request) descriptor(buf []byte, mode hipc.BufferMode) hipc.BufferDescriptor {
	return hipc.BufferDescriptor{Address: r.region.Map(buf), Size: uint64(len(buf)), Mode: mode}
}

// MakeCloseRequest starts a session close.
func MakeCloseRequest(region *kernel.Region) error {
	region.Begin()
	_, err := hipc.Compose(region, hipc.Metadata{Type: MessageClose})
	return err
}

// Response is a successful reply; Data borrows the message region.
type Response struct {
	Data        kernel.View
	CopyHandles []kernel.Handle
	MoveHandles []kernel.Handle
}

// ParseResponse decodes the reply in region. A reply without data words is
// the empty-response sentinel and matches protocol.ErrNotFound.
func ParseResponse(region *kernel.Region, size int) (*Response, error) {
	msg, err := hipc.Parse(region)
	if err != nil {
		return nil, err
	}
	if msg.Data.Len() == 0 {
		return nil, &protocol.ServiceError{Code: protocol.ResultNotFound}
	}
	if msg.Data.Len() < resultSize {
		return nil, fmt.Errorf("tipc: result word: %w", protocol.ErrTruncated)
	}
	words := msg.Data.Bytes()
	if rc := protocol.Result(binary.LittleEndian.Uint32(words)); rc != protocol.ResultSuccess {
		return nil, &protocol.ServiceError{Code: rc}
	}
	if size < 0 || resultSize+size > msg.Data.Len() {
		return nil, fmt.Errorf("tipc: payload %d exceeds %d data bytes: %w", size, msg.Data.Len()-resultSize, protocol.ErrTruncated)
	}
	return &Response{
		Data:        msg.Data.Slice(resultSize, size),
		CopyHandles: msg.CopyHandles,
		MoveHandles: msg.MoveHandles,
	}, nil
}

// ServerRequest is a request as seen by the receiving side.
type ServerRequest struct {
	Message   *hipc.Message
	CommandID uint32
	Close     bool
	Payload   kernel.View
}

// ParseRequest decodes the request in region.
func ParseRequest(region *kernel.Region) (*ServerRequest, error) {
	msg, err := hipc.Parse(region)
	if err != nil {
		return nil, err
	}
	req := &ServerRequest{Message: msg, Payload: msg.Data}
	switch {
	case msg.Header.Type == MessageClose:
		req.Close = true
	case msg.Header.Type >= CommandOffset:
		req.CommandID = uint32(msg.Header.Type) - CommandOffset
	default:
		return nil, fmt.Errorf("tipc: message type %d is not a tipc command: %w", msg.Header.Type, protocol.ErrInvalidMagic)
	}
	return req, nil
}

type ResponseFormat struct {
	Result         protocol.Result
	DataSize       int
	NumCopyHandles int
	NumMoveHandles int
}

// ResponseWriter fills a reply laid out by MakeResponse.
type ResponseWriter struct {
	hipc *hipc.Request
	data []byte
}

// MakeResponse overwrites region with a reply of shape f.
func MakeResponse(region *kernel.Region, f ResponseFormat) (*ResponseWriter, error) {
	clear(region.Bytes())
	req, err := hipc.Compose(region, hipc.Metadata{
		NumDataWords:   (resultSize + f.DataSize + 3) / 4,
		NumCopyHandles: f.NumCopyHandles,
		NumMoveHandles: f.NumMoveHandles,
	})
	if err != nil {
		return nil, fmt.Errorf("tipc: compose response: %w", err)
	}
	words := req.DataWords()
	binary.LittleEndian.PutUint32(words, uint32(f.Result))
	return &ResponseWriter{hipc: req, data: words[resultSize : resultSize+f.DataSize : resultSize+f.DataSize]}, nil
}

// MakeEmptyResponse writes the no-data-words reply some services use to
// signal absence.
func MakeEmptyResponse(region *kernel.Region) error {
	clear(region.Bytes())
	_, err := hipc.Compose(region, hipc.Metadata{})
	return err
}

func (w *ResponseWriter) Data() []byte {
	return w.data
}

func (w *ResponseWriter) SetCopyHandle(i int, h kernel.Handle) {
	w.hipc.SetCopyHandle(i, h)
}

func (w *ResponseWriter) SetMoveHandle(i int, h kernel.Handle) {
	w.hipc.SetMoveHandle(i, h)
}
