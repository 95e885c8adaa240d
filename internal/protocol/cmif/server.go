package cmif

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/protocol/hipc"
)

// ServerRequest is a request as seen by the receiving side.
type ServerRequest struct {
	Message *hipc.Message
	Type    CommandType
	// Domain is set when the message was addressed to a domain object.
	Domain    *DomainInHeader
	Header    InHeader
	Payload   kernel.View
	InObjects []uint32
}

// IsClose reports a session close or a domain object close.
func (r *ServerRequest) IsClose() bool {
	return r.Type == CommandClose || (r.Domain != nil && r.Domain.Type == DomainClose)
}

// ParseRequest decodes the request in region. Request messages on a domain
// session carry a domain header; control and close messages never do.
func ParseRequest(region *kernel.Region, isDomain bool) (*ServerRequest, error) {
	msg, err := hipc.Parse(region)
	if err != nil {
		return nil, err
	}
	req := &ServerRequest{Message: msg, Type: CommandType(msg.Header.Type)}
	if req.Type == CommandClose {
		return req, nil
	}
	c := alignedCursor(msg)

	payloadSize := -1
	if isDomain && req.Type.IsRequest() {
		v, err := c.next(DomainHeaderSize, "domain in header")
		if err != nil {
			return nil, err
		}
		dh := DecodeDomainInHeader(v.Bytes())
		req.Domain = &dh
		if dh.Type == DomainClose {
			return req, nil
		}
		if int(dh.DataSize) < HeaderSize {
			return nil, fmt.Errorf("cmif: domain data size %d: %w", dh.DataSize, protocol.ErrTruncated)
		}
		payloadSize = int(dh.DataSize) - HeaderSize
	}

	hv, err := c.next(HeaderSize, "in header")
	if err != nil {
		return nil, err
	}
	raw := hv.Bytes()
	if magic := binary.LittleEndian.Uint32(raw); magic != InHeaderMagic {
		return nil, fmt.Errorf("cmif: in header magic %#x: %w", magic, protocol.ErrInvalidMagic)
	}
	req.Header = DecodeInHeader(raw)

	if payloadSize < 0 {
		payloadSize = c.view.Len() - c.off
	}
	if req.Payload, err = c.next(payloadSize, "payload"); err != nil {
		return nil, err
	}
	if req.Domain != nil && req.Domain.NumInObjects > 0 {
		ov, err := c.next(int(req.Domain.NumInObjects)*ObjectIDSize, "in objects")
		if err != nil {
			return nil, err
		}
		b := ov.Bytes()
		req.InObjects = make([]uint32, req.Domain.NumInObjects)
		for i := range req.InObjects {
			req.InObjects[i] = binary.LittleEndian.Uint32(b[i*ObjectIDSize:])
		}
	}
	return req, nil
}

// ResponseFormat declares the shape of a reply.
type ResponseFormat struct {
	IsDomain       bool
	Result         protocol.Result
	DataSize       int
	NumObjects     int
	NumCopyHandles int
	NumMoveHandles int
}

// ResponseWriter fills a reply laid out by MakeResponse.
type ResponseWriter struct {
	hipc    *hipc.Request
	data    []byte
	objects []byte
}

// MakeResponse overwrites region with an empty reply of shape f. The call
// generation is left alone so the client still owns the region.
func MakeResponse(region *kernel.Region, f ResponseFormat) (*ResponseWriter, error) {
	clear(region.Bytes())
	size := hipc.RawPadding + HeaderSize + f.DataSize
	if f.IsDomain {
		size += DomainHeaderSize + f.NumObjects*ObjectIDSize
	}
	req, err := hipc.Compose(region, hipc.Metadata{
		NumDataWords:   (size + 3) / 4,
		NumCopyHandles: f.NumCopyHandles,
		NumMoveHandles: f.NumMoveHandles,
	})
	if err != nil {
		return nil, fmt.Errorf("cmif: compose response: %w", err)
	}
	buf := region.Bytes()
	off := req.RawOffset()
	w := &ResponseWriter{hipc: req}
	if f.IsDomain {
		DomainOutHeader{NumOutObjects: uint32(f.NumObjects)}.Encode(buf[off:])
		off += DomainHeaderSize
	}
	OutHeader{Magic: OutHeaderMagic, Result: f.Result}.Encode(buf[off:])
	off += HeaderSize
	w.data = buf[off : off+f.DataSize : off+f.DataSize]
	off += f.DataSize
	if f.IsDomain {
		w.objects = buf[off : off+f.NumObjects*ObjectIDSize]
	}
	return w, nil
}

func (w *ResponseWriter) Data() []byte {
	return w.data
}

func (w *ResponseWriter) SetObject(i int, id uint32) {
	binary.LittleEndian.PutUint32(w.objects[i*ObjectIDSize:], id)
}

func (w *ResponseWriter) SetCopyHandle(i int, h kernel.Handle) {
	w.hipc.SetCopyHandle(i, h)
}

func (w *ResponseWriter) SetMoveHandle(i int, h kernel.Handle) {
	w.hipc.SetMoveHandle(i, h)
}
