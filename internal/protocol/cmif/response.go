package cmif

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/protocol/hipc"
)

// Response is a successful reply. Data borrows the message region and is
// only readable until the next request on it.
type Response struct {
	Data        kernel.View
	Objects     []uint32
	CopyHandles []kernel.Handle
	MoveHandles []kernel.Handle
}

type cursor struct {
	view kernel.View
	off  int
}

func (c *cursor) next(n int, what string) (kernel.View, error) {
	if n < 0 || c.off+n > c.view.Len() {
		return kernel.View{}, fmt.Errorf("cmif: %s needs %d bytes at %d of %d: %w", what, n, c.off, c.view.Len(), protocol.ErrTruncated)
	}
	v := c.view.Slice(c.off, n)
	c.off += n
	return v, nil
}

func alignedCursor(msg *hipc.Message) *cursor {
	c := &cursor{view: msg.Data, off: msg.RawOffset() - msg.DataOffset()}
	if c.off > c.view.Len() {
		c.off = c.view.Len() + 1
	}
	return c
}

// ParseResponse decodes the reply in region. The magic is checked before
// the result code is read; a non-zero result becomes *protocol.ServiceError.
func ParseResponse(region *kernel.Region, isDomain bool, size int) (*Response, error) {
	msg, err := hipc.Parse(region)
	if err != nil {
		return nil, err
	}
	c := alignedCursor(msg)

	numObjects := 0
	if isDomain {
		v, err := c.next(DomainHeaderSize, "domain out header")
		if err != nil {
			return nil, err
		}
		numObjects = int(DecodeDomainOutHeader(v.Bytes()).NumOutObjects)
	}
	hv, err := c.next(HeaderSize, "out header")
	if err != nil {
		return nil, err
	}
	raw := hv.Bytes()
	if magic := binary.LittleEndian.Uint32(raw); magic != OutHeaderMagic {
		return nil, fmt.Errorf("cmif: out header magic %#x: %w", magic, protocol.ErrInvalidMagic)
	}
	hdr := DecodeOutHeader(raw)
	if hdr.Result != protocol.ResultSuccess {
		return nil, &protocol.ServiceError{Code: hdr.Result}
	}
	data, err := c.next(size, "payload")
	if err != nil {
		return nil, err
	}
	resp := &Response{
		Data:        data,
		CopyHandles: msg.CopyHandles,
		MoveHandles: msg.MoveHandles,
	}
	if numObjects > 0 {
		ov, err := c.next(numObjects*ObjectIDSize, "out objects")
		if err != nil {
			return nil, err
		}
		b := ov.Bytes()
		resp.Objects = make([]uint32, numObjects)
		for i := range resp.Objects {
			resp.Objects[i] = binary.LittleEndian.Uint32(b[i*ObjectIDSize:])
		}
	}
	return resp, nil
}
