package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/observability"
	"github.com/danmuck/nxipc/internal/protocol/cmif"
	"github.com/danmuck/nxipc/internal/protocol/tipc"
	"github.com/rs/zerolog"
)

var (
	ErrClosed            = errors.New("session: object closed")
	ErrAlreadyDomain     = errors.New("session: already a domain")
	ErrNotDomain         = errors.New("session: not a domain")
	ErrDomainUnsupported = errors.New("session: dialect has no domain or control support")
	ErrInvalidObjectID   = errors.New("session: invalid object id")
)

// Object is what a Dispatch can target: a Service or a DomainObject.
type Object interface {
	Handle() kernel.Handle
	ObjectID() uint32
	Dialect() Dialect
	IsDomainSubservice() bool
	Dispatch(requestID uint32) *Call
	Close() error
}

// endpoint is one call stream: the kernel, the region requests are composed
// in, and the settings every object on the stream shares.
type endpoint struct {
	k      kernel.Kernel
	region *kernel.Region
	cfg    Config
	log    zerolog.Logger
}

func newEndpoint(k kernel.Kernel, o options) *endpoint {
	return &endpoint{k: k, region: kernel.NewRegion(o.cfg.RegionSize), cfg: o.cfg, log: o.log}
}

// fork returns a fresh call stream with the same settings.
func (ep *endpoint) fork() *endpoint {
	return &endpoint{k: ep.k, region: kernel.NewRegion(ep.cfg.RegionSize), cfg: ep.cfg, log: ep.log}
}

type object struct {
	ep       *endpoint
	handle   kernel.Handle
	objectID uint32
	ptrBuf   uint16
	closed   bool
	head     *object // domain head of a DomainObject, nil for a Service
}

func (o *object) Handle() kernel.Handle {
	return o.handle
}

func (o *object) ObjectID() uint32 {
	return o.objectID
}

func (o *object) Dialect() Dialect {
	return o.ep.cfg.Dialect
}

func (o *object) PointerBufferSize() uint16 {
	return o.ptrBuf
}

func (o *object) Closed() bool {
	return o.isClosed()
}

// isClosed also reports a domain object whose head has been closed.
func (o *object) isClosed() bool {
	return o.closed || (o.head != nil && o.head.closed)
}

// Region exposes the call stream's message region, mainly for inspection.
func (o *object) Region() *kernel.Region {
	return o.ep.region
}

func (o *object) sendClose(objectID uint32) {
	var err error
	if o.ep.cfg.Dialect == DialectTIPC {
		err = tipc.MakeCloseRequest(o.ep.region)
	} else {
		err = cmif.MakeCloseRequest(o.ep.region, objectID)
	}
	if err == nil {
		err = o.ep.k.SendSyncRequest(o.handle, o.ep.region)
	}
	if err != nil {
		o.ep.log.Debug().Err(err).Stringer("handle", o.handle).Uint32("object_id", objectID).Msg("close request ignored")
	}
}

// Service is a session the process either owns or borrows as an override.
// A Service with a non-zero object id is a domain head and always owns its
// handle.
type Service struct {
	object
	owned bool
}

// New wraps an owned session handle. CMIF sessions query the server's
// pointer buffer size; a failed query leaves it at 0.
func New(k kernel.Kernel, h kernel.Handle, opts ...Option) *Service {
	return newService(k, h, true, opts)
}

// NewOverride wraps a handle the process does not own. Close never releases
// it, and ConvertToDomain clones it first.
func NewOverride(k kernel.Kernel, h kernel.Handle, opts ...Option) *Service {
	return newService(k, h, false, opts)
}

func newService(k kernel.Kernel, h kernel.Handle, owned bool, opts []Option) *Service {
	o := resolveOptions(opts)
	s := &Service{object: object{ep: newEndpoint(k, o), handle: h}, owned: owned}
	switch {
	case o.ptrBuf != nil:
		s.ptrBuf = *o.ptrBuf
	case o.cfg.Dialect == DialectCMIF && o.cfg.QueryPointerBuffer:
		size, err := s.QueryPointerBufferSize()
		if err != nil {
			s.ep.log.Debug().Err(err).Stringer("handle", h).Msg("pointer buffer query failed")
		}
		s.ptrBuf = size
	}
	return s
}

// NewSubservice wraps a session handle returned by s, inheriting its
// dialect and pointer buffer size.
func (s *Service) NewSubservice(h kernel.Handle) *Service {
	return &Service{
		object: object{ep: s.ep.fork(), handle: h, ptrBuf: s.ptrBuf},
		owned:  true,
	}
}

// NewDomainObject addresses object id inside the domain s heads.
func (s *Service) NewDomainObject(id uint32) (*DomainObject, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.objectID == 0 {
		return nil, ErrNotDomain
	}
	if id == 0 {
		return nil, ErrInvalidObjectID
	}
	return &DomainObject{
		object: object{ep: s.ep, handle: s.handle, objectID: id, ptrBuf: s.ptrBuf, head: &s.object},
		parent: s,
	}, nil
}

func (s *Service) IsOwned() bool {
	return s.owned
}

// IsOverride reports a borrowed, non-domain session.
func (s *Service) IsOverride() bool {
	return !s.owned && s.objectID == 0
}

// IsDomain reports whether s has been converted into a domain head.
func (s *Service) IsDomain() bool {
	return s.objectID != 0
}

// IsDomainSubservice is always false: a Service never borrows its handle
// from a domain.
func (s *Service) IsDomainSubservice() bool {
	return false
}

// Close sends a close request and releases the handle when s owns it. An
// override is only marked closed. Closing twice returns ErrClosed without
// touching the kernel.
func (s *Service) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	if !s.owned {
		return nil
	}
	s.sendClose(0)
	observability.RecordSessionClosed(s.Dialect().String(), true)
	if err := s.ep.k.CloseHandle(s.handle); err != nil {
		return kernel.TransportError("close handle", s.handle, err)
	}
	return nil
}

// DomainObject is one object multiplexed over a domain session. It borrows
// the session handle and never closes it.
type DomainObject struct {
	object
	parent *Service
}

func (d *DomainObject) IsDomainSubservice() bool {
	return true
}

// Parent is the domain head hosting d.
func (d *DomainObject) Parent() *Service {
	return d.parent
}

// NewDomainObject addresses a sibling object in the same domain, typically
// one returned by a command on d.
func (d *DomainObject) NewDomainObject(id uint32) (*DomainObject, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	return d.parent.NewDomainObject(id)
}

// Close releases the object inside the domain. The session handle stays
// with the domain head.
func (d *DomainObject) Close() error {
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	if d.parent.closed {
		return nil
	}
	d.sendClose(d.objectID)
	observability.RecordSessionClosed(d.Dialect().String(), false)
	return nil
}

// CopyObjectToSession asks the server for a standalone session serving d.
// The returned Service owns its handle; d stays valid in the domain.
func (d *DomainObject) CopyObjectToSession() (*Service, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	return d.parent.CopyObjectToSession(d.objectID)
}

func (d *DomainObject) String() string {
	return fmt.Sprintf("domain object %d on %s", d.objectID, d.handle)
}
