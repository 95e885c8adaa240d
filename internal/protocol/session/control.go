package session

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/observability"
	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/protocol/cmif"
)

// control sends a CMIF control request. Control requests address the
// session itself, never a domain object.
func (o *object) control(id uint32, in []byte, outSize int) (*cmif.Response, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	if o.ep.cfg.Dialect != DialectCMIF {
		return nil, ErrDomainUnsupported
	}
	start := time.Now()
	resp, err := o.sendControl(id, in, outSize)
	observability.RecordIPCRequest(o.ep.cfg.Dialect.String(), "control", outcome(err), time.Since(start))
	o.ep.log.Debug().
		Err(err).
		Uint32("control", id).
		Stringer("handle", o.handle).
		Dur("duration", time.Since(start)).
		Msg("ipc_control")
	return resp, err
}

func (o *object) sendControl(id uint32, in []byte, outSize int) (*cmif.Response, error) {
	payload, err := cmif.MakeControlRequest(o.ep.region, id, len(in))
	if err != nil {
		return nil, err
	}
	copy(payload, in)
	if err := o.ep.k.SendSyncRequest(o.handle, o.ep.region); err != nil {
		return nil, kernel.TransportError("send sync request", o.handle, err)
	}
	return cmif.ParseResponse(o.ep.region, false, outSize)
}

// QueryPointerBufferSize asks the server how large its pointer buffer is.
func (s *Service) QueryPointerBufferSize() (uint16, error) {
	resp, err := s.control(cmif.ControlQueryPointerBufferSize, nil, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(resp.Data.Bytes()), nil
}

// TryClone duplicates the session. The clone owns its handle and has its
// own call stream, so it can run requests concurrently with s.
func (s *Service) TryClone() (*Service, error) {
	h, err := s.cloneHandle(cmif.ControlCloneObject, nil)
	if err != nil {
		return nil, err
	}
	return s.cloned(h), nil
}

// TryCloneEx is TryClone with a server-defined tag.
func (s *Service) TryCloneEx(tag uint32) (*Service, error) {
	h, err := s.cloneHandle(cmif.ControlCloneObjectEx, &tag)
	if err != nil {
		return nil, err
	}
	return s.cloned(h), nil
}

func (s *Service) cloned(h kernel.Handle) *Service {
	return &Service{
		object: object{ep: s.ep.fork(), handle: h, objectID: s.objectID, ptrBuf: s.ptrBuf},
		owned:  true,
	}
}

func (s *Service) cloneHandle(id uint32, tag *uint32) (kernel.Handle, error) {
	var in []byte
	if tag != nil {
		in = binary.LittleEndian.AppendUint32(nil, *tag)
	}
	resp, err := s.control(id, in, 0)
	if err != nil {
		return kernel.InvalidHandle, err
	}
	return firstMoveHandle(resp.MoveHandles)
}

// ConvertToDomain turns s into a domain head in place. An override session
// is first replaced by a clone so other holders of the original handle keep
// a plain session.
func (s *Service) ConvertToDomain() error {
	if s.closed {
		return ErrClosed
	}
	if s.ep.cfg.Dialect != DialectCMIF {
		return ErrDomainUnsupported
	}
	if s.objectID != 0 {
		return ErrAlreadyDomain
	}
	if !s.owned {
		h, err := s.cloneHandle(cmif.ControlCloneObjectEx, new(uint32))
		if err != nil {
			return fmt.Errorf("session: clone override before domain conversion: %w", err)
		}
		s.handle = h
		s.owned = true
	}
	resp, err := s.control(cmif.ControlConvertToDomain, nil, 4)
	if err != nil {
		return err
	}
	id := binary.LittleEndian.Uint32(resp.Data.Bytes())
	if id == 0 {
		return fmt.Errorf("session: domain conversion returned object id 0: %w", ErrInvalidObjectID)
	}
	s.objectID = id
	s.ep.log.Debug().Stringer("handle", s.handle).Uint32("object_id", id).Msg("converted to domain")
	return nil
}

// CopyObjectToSession moves domain object id out into a session of its own.
func (s *Service) CopyObjectToSession(id uint32) (*Service, error) {
	if s.objectID == 0 {
		return nil, ErrNotDomain
	}
	resp, err := s.control(cmif.ControlCopyFromDomain, binary.LittleEndian.AppendUint32(nil, id), 0)
	if err != nil {
		return nil, err
	}
	h, err := firstMoveHandle(resp.MoveHandles)
	if err != nil {
		return nil, err
	}
	return &Service{object: object{ep: s.ep.fork(), handle: h, ptrBuf: s.ptrBuf}, owned: true}, nil
}

func firstMoveHandle(hs []kernel.Handle) (kernel.Handle, error) {
	if len(hs) == 0 {
		return kernel.InvalidHandle, fmt.Errorf("session: reply carries no move handle: %w", protocol.ErrTruncated)
	}
	return hs[0], nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return protocol.Classify(err).String()
}
