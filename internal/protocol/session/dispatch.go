package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/observability"
	"github.com/danmuck/nxipc/internal/protocol/cmif"
	"github.com/danmuck/nxipc/internal/protocol/hipc"
	"github.com/danmuck/nxipc/internal/protocol/tipc"
)

// BufferAttr describes how one buffer travels.
type BufferAttr uint32

const (
	BufferIn              BufferAttr = 1 << 0
	BufferOut             BufferAttr = 1 << 1
	BufferHipcMapAlias    BufferAttr = 1 << 2
	BufferHipcPointer     BufferAttr = 1 << 3
	BufferFixedSize       BufferAttr = 1 << 4
	BufferHipcAutoSelect  BufferAttr = 1 << 5
	BufferAllowsNonSecure BufferAttr = 1 << 6
	BufferAllowsNonDevice BufferAttr = 1 << 7
)

const (
	MaxBuffers = 8
	MaxObjects = 8
	MaxHandles = 8
)

var (
	ErrTooMany           = errors.New("session: too many buffers, objects or handles")
	ErrBufferAttr        = errors.New("session: buffer attributes name no direction")
	ErrUnsupportedBuffer = errors.New("session: buffer kind not supported by dialect")
	ErrForeignObject     = errors.New("session: object belongs to another domain")
)

func (a BufferAttr) mode() hipc.BufferMode {
	switch {
	case a&BufferAllowsNonSecure != 0:
		return hipc.ModeNonSecure
	case a&BufferAllowsNonDevice != 0:
		return hipc.ModeNonDevice
	default:
		return hipc.ModeNormal
	}
}

type buffer struct {
	data []byte
	attr BufferAttr
}

// Call builds one request. Builder errors are kept and returned by Send.
type Call struct {
	target  *object
	id      uint32
	context uint32
	in      []byte
	outSize int
	buffers []buffer
	objects []uint32
	handles []kernel.Handle
	sendPID bool
	err     error
}

// Dispatch starts a request for command id on o.
func (o *object) Dispatch(id uint32) *Call {
	return &Call{target: o, id: id}
}

// Context sets the request token, selecting the with-context command type.
func (c *Call) Context(token uint32) *Call {
	c.context = token
	return c
}

// In sets the raw input payload.
func (c *Call) In(data []byte) *Call {
	c.in = data
	return c
}

// OutSize sets the expected raw output payload size.
func (c *Call) OutSize(n int) *Call {
	c.outSize = n
	return c
}

func (c *Call) Buffer(data []byte, attr BufferAttr) *Call {
	if attr&(BufferIn|BufferOut) == 0 {
		c.fail(fmt.Errorf("%w: attr %#x", ErrBufferAttr, uint32(attr)))
		return c
	}
	if len(c.buffers) == MaxBuffers {
		c.fail(fmt.Errorf("%w: more than %d buffers", ErrTooMany, MaxBuffers))
		return c
	}
	c.buffers = append(c.buffers, buffer{data: data, attr: attr})
	return c
}

// InObject passes obj, which must live in the same domain as the target.
func (c *Call) InObject(obj Object) *Call {
	if obj.Handle() != c.target.handle || obj.ObjectID() == 0 {
		c.fail(fmt.Errorf("%w: %d", ErrForeignObject, obj.ObjectID()))
		return c
	}
	if len(c.objects) == MaxObjects {
		c.fail(fmt.Errorf("%w: more than %d objects", ErrTooMany, MaxObjects))
		return c
	}
	c.objects = append(c.objects, obj.ObjectID())
	return c
}

// InHandle copies h to the server.
func (c *Call) InHandle(h kernel.Handle) *Call {
	if len(c.handles) == MaxHandles {
		c.fail(fmt.Errorf("%w: more than %d handles", ErrTooMany, MaxHandles))
		return c
	}
	c.handles = append(c.handles, h)
	return c
}

// SendPID asks the kernel to stamp the caller's process id.
func (c *Call) SendPID() *Call {
	c.sendPID = true
	return c
}

func (c *Call) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Reply is the outcome of a successful Send. Data borrows the call stream's
// region and is only readable until the next request on it.
type Reply struct {
	Data        kernel.View
	Objects     []uint32
	CopyHandles []kernel.Handle
	MoveHandles []kernel.Handle
}

// Object wraps the i-th returned object id as a DomainObject.
func (r *Reply) Object(i int, parent *Service) (*DomainObject, error) {
	if i < 0 || i >= len(r.Objects) {
		return nil, fmt.Errorf("session: reply carries %d objects, want index %d: %w", len(r.Objects), i, ErrInvalidObjectID)
	}
	return parent.NewDomainObject(r.Objects[i])
}

// MoveHandle returns the i-th moved handle.
func (r *Reply) MoveHandle(i int) (kernel.Handle, error) {
	if i < 0 || i >= len(r.MoveHandles) {
		return kernel.InvalidHandle, fmt.Errorf("session: reply carries %d move handles, want index %d", len(r.MoveHandles), i)
	}
	return r.MoveHandles[i], nil
}

// Send composes the request, blocks in the kernel, and parses the reply.
func (c *Call) Send() (*Reply, error) {
	if c.err != nil {
		return nil, c.err
	}
	o := c.target
	if o.isClosed() {
		return nil, ErrClosed
	}
	start := time.Now()
	var reply *Reply
	var err error
	if o.ep.cfg.Dialect == DialectTIPC {
		reply, err = c.sendTIPC()
	} else {
		reply, err = c.sendCMIF()
	}
	elapsed := time.Since(start)
	observability.RecordIPCRequest(o.ep.cfg.Dialect.String(), "request", outcome(err), elapsed)
	o.ep.log.Debug().
		Err(err).
		Str("dialect", o.ep.cfg.Dialect.String()).
		Uint32("command", c.id).
		Uint32("object_id", o.objectID).
		Stringer("handle", o.handle).
		Dur("duration", elapsed).
		Msg("ipc_request")
	return reply, err
}

func (c *Call) cmifFormat() (cmif.RequestFormat, error) {
	o := c.target
	f := cmif.RequestFormat{
		ObjectID:          o.objectID,
		RequestID:         c.id,
		Context:           c.context,
		DataSize:          len(c.in),
		ServerPointerSize: int(o.ptrBuf),
		NumObjects:        len(c.objects),
		NumHandles:        len(c.handles),
		SendPID:           c.sendPID,
	}
	if len(c.objects) > 0 && o.objectID == 0 {
		return f, ErrNotDomain
	}
	for _, b := range c.buffers {
		in, out := b.attr&BufferIn != 0, b.attr&BufferOut != 0
		switch {
		case b.attr&BufferHipcAutoSelect != 0:
			if in {
				f.NumInAutoBuffers++
			}
			if out {
				f.NumOutAutoBuffers++
			}
		case b.attr&BufferHipcPointer != 0:
			switch {
			case in:
				f.NumInPointers++
			case b.attr&BufferFixedSize != 0:
				f.NumOutFixedPointers++
			default:
				f.NumOutPointers++
			}
		default:
			switch {
			case in && out:
				f.NumInOutBuffers++
			case in:
				f.NumInBuffers++
			default:
				f.NumOutBuffers++
			}
		}
	}
	return f, nil
}

func (c *Call) sendCMIF() (*Reply, error) {
	o := c.target
	f, err := c.cmifFormat()
	if err != nil {
		return nil, err
	}
	req, err := cmif.MakeRequest(o.ep.region, f)
	if err != nil {
		return nil, err
	}
	copy(req.Data(), c.in)
	for _, b := range c.buffers {
		if err := addCMIFBuffer(req, b); err != nil {
			return nil, err
		}
	}
	for _, id := range c.objects {
		if err := req.AddObject(id); err != nil {
			return nil, err
		}
	}
	for _, h := range c.handles {
		if err := req.AddHandle(h); err != nil {
			return nil, err
		}
	}
	if err := o.ep.k.SendSyncRequest(o.handle, o.ep.region); err != nil {
		return nil, kernel.TransportError("send sync request", o.handle, err)
	}
	resp, err := cmif.ParseResponse(o.ep.region, o.objectID != 0, c.outSize)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Data:        resp.Data,
		Objects:     resp.Objects,
		CopyHandles: resp.CopyHandles,
		MoveHandles: resp.MoveHandles,
	}, nil
}

func addCMIFBuffer(req *cmif.Request, b buffer) error {
	in, out := b.attr&BufferIn != 0, b.attr&BufferOut != 0
	mode := b.attr.mode()
	switch {
	case b.attr&BufferHipcAutoSelect != 0:
		if in {
			if err := req.AddInAutoBuffer(b.data, mode); err != nil {
				return err
			}
		}
		if out {
			return req.AddOutAutoBuffer(b.data, mode)
		}
		return nil
	case b.attr&BufferHipcPointer != 0:
		switch {
		case in:
			return req.AddInPointer(b.data)
		case b.attr&BufferFixedSize != 0:
			return req.AddOutFixedPointer(b.data)
		default:
			return req.AddOutPointer(b.data)
		}
	default:
		switch {
		case in && out:
			return req.AddInOutBuffer(b.data, mode)
		case in:
			return req.AddInBuffer(b.data, mode)
		default:
			return req.AddOutBuffer(b.data, mode)
		}
	}
}

func (c *Call) sendTIPC() (*Reply, error) {
	o := c.target
	if len(c.objects) > 0 {
		return nil, ErrDomainUnsupported
	}
	f := tipc.RequestFormat{
		RequestID:  c.id,
		DataSize:   len(c.in),
		NumHandles: len(c.handles),
		SendPID:    c.sendPID,
	}
	for _, b := range c.buffers {
		if b.attr&BufferHipcPointer != 0 {
			return nil, fmt.Errorf("%w: pointer buffer on tipc", ErrUnsupportedBuffer)
		}
		in, out := b.attr&BufferIn != 0, b.attr&BufferOut != 0
		switch {
		case in && out:
			f.NumInOutBuffers++
		case in:
			f.NumInBuffers++
		default:
			f.NumOutBuffers++
		}
	}
	req, err := tipc.MakeRequest(o.ep.region, f)
	if err != nil {
		return nil, err
	}
	copy(req.Data(), c.in)
	for _, b := range c.buffers {
		in, out := b.attr&BufferIn != 0, b.attr&BufferOut != 0
		mode := b.attr.mode()
		switch {
		case in && out:
			err = req.AddInOutBuffer(b.data, mode)
		case in:
			err = req.AddInBuffer(b.data, mode)
		default:
			err = req.AddOutBuffer(b.data, mode)
		}
		if err != nil {
			return nil, err
		}
	}
	for _, h := range c.handles {
		if err := req.AddHandle(h); err != nil {
			return nil, err
		}
	}
	if err := o.ep.k.SendSyncRequest(o.handle, o.ep.region); err != nil {
		return nil, kernel.TransportError("send sync request", o.handle, err)
	}
	resp, err := tipc.ParseResponse(o.ep.region, c.outSize)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Data:        resp.Data,
		CopyHandles: resp.CopyHandles,
		MoveHandles: resp.MoveHandles,
	}, nil
}
