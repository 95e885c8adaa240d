package loopback

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/protocol/cmif"
	"github.com/danmuck/nxipc/internal/protocol/hipc"
	"github.com/danmuck/nxipc/internal/protocol/tipc"
)

// decode copies everything a handler needs out of region, since writing
// the reply overwrites it.
func decode(region *kernel.Region, msg *hipc.Message, payload kernel.View) (*Request, error) {
	req := &Request{
		PID:         msg.PID,
		Data:        payload.Copy(),
		CopyHandles: msg.CopyHandles,
		MoveHandles: msg.MoveHandles,
	}
	var err error
	if req.InBuffers, err = resolveBuffers(region, msg.SendBuffers); err != nil {
		return nil, err
	}
	if req.OutBuffers, err = resolveBuffers(region, msg.RecvBuffers); err != nil {
		return nil, err
	}
	if req.InOutBuffers, err = resolveBuffers(region, msg.ExchBuffers); err != nil {
		return nil, err
	}
	for _, d := range msg.SendStatics {
		b, err := region.Resolve(d.Address, uint64(d.Size))
		if err != nil {
			return nil, fmt.Errorf("loopback: in pointer %d: %w", d.Index, err)
		}
		req.InPointers = append(req.InPointers, b)
	}
	for i, e := range msg.RecvList {
		b, err := region.Resolve(e.Address, uint64(e.Size))
		if err != nil {
			return nil, fmt.Errorf("loopback: receive list entry %d: %w", i, err)
		}
		req.OutPointers = append(req.OutPointers, b)
	}
	return req, nil
}

func resolveBuffers(region *kernel.Region, ds []hipc.BufferDescriptor) ([][]byte, error) {
	var out [][]byte
	for i, d := range ds {
		b, err := region.Resolve(d.Address, d.Size)
		if err != nil {
			return nil, fmt.Errorf("loopback: buffer %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (k *Kernel) serveCMIF(s *session, region *kernel.Region) error {
	isDomain := s.domain != nil
	sr, err := cmif.ParseRequest(region, isDomain)
	if err != nil {
		return k.cmifFailure(region, isDomain, err)
	}
	switch {
	case sr.Type == cmif.CommandClose:
		s.closed = true
		k.stats.CloseMessages++
		return nil
	case sr.Type.IsControl():
		return k.control(s, region, sr)
	case sr.Domain != nil && sr.Domain.Type == cmif.DomainClose:
		if _, ok := s.domain.objects[sr.Domain.ObjectID]; !ok {
			return cmifError(region, true, ResultObjectNotFound)
		}
		delete(s.domain.objects, sr.Domain.ObjectID)
		k.stats.CloseMessages++
		_, err := cmif.MakeResponse(region, cmif.ResponseFormat{IsDomain: true})
		return err
	}

	target := s.root
	token := sr.Header.Token
	var inObjects []Object
	if sr.Domain != nil {
		obj, ok := s.domain.objects[sr.Domain.ObjectID]
		if !ok {
			return cmifError(region, true, ResultObjectNotFound)
		}
		target = obj
		token = sr.Domain.Token
		for _, id := range sr.InObjects {
			in, ok := s.domain.objects[id]
			if !ok {
				return cmifError(region, true, ResultObjectNotFound)
			}
			inObjects = append(inObjects, in)
		}
	}
	req, err := decode(region, sr.Message, sr.Payload)
	if err != nil {
		return k.cmifFailure(region, isDomain, err)
	}
	req.Command = sr.Header.CommandID
	req.Token = token
	req.InObjects = inObjects

	var resp Response
	if err := target.HandleRequest(req, &resp); err != nil {
		return cmifError(region, isDomain, resultOf(err))
	}

	ports, err := k.lookupPorts(resp.Connect)
	if err != nil {
		return cmifError(region, isDomain, resultOf(err))
	}
	f := cmif.ResponseFormat{
		IsDomain:       isDomain,
		DataSize:       len(resp.Data),
		NumCopyHandles: len(resp.CopyHandles),
	}
	var ids []uint32
	var moves []kernel.Handle
	for _, obj := range resp.Objects {
		if isDomain {
			ids = append(ids, s.domain.add(obj))
		} else {
			moves = append(moves, k.open(&session{port: s.port, root: obj}))
		}
	}
	moves = append(moves, k.openPorts(ports)...)
	f.NumObjects = len(ids)
	f.NumMoveHandles = len(moves)
	w, err := cmif.MakeResponse(region, f)
	if err != nil {
		return err
	}
	copy(w.Data(), resp.Data)
	for i, id := range ids {
		w.SetObject(i, id)
	}
	for i, h := range resp.CopyHandles {
		w.SetCopyHandle(i, h)
	}
	for i, h := range moves {
		w.SetMoveHandle(i, h)
	}
	return nil
}

func (k *Kernel) control(s *session, region *kernel.Region, sr *cmif.ServerRequest) error {
	data := sr.Payload.Copy()
	switch sr.Header.CommandID {
	case cmif.ControlConvertToDomain:
		if s.domain != nil {
			return cmifError(region, false, ResultAlreadyDomain)
		}
		s.domain = &domain{objects: make(map[uint32]Object), next: 1}
		id := s.domain.add(s.root)
		w, err := cmif.MakeResponse(region, cmif.ResponseFormat{DataSize: 4})
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(w.Data(), id)
		return nil
	case cmif.ControlCopyFromDomain:
		if s.domain == nil {
			return cmifError(region, false, ResultNotDomain)
		}
		if len(data) < 4 {
			return cmifError(region, false, ResultUnknownCommand)
		}
		obj, ok := s.domain.objects[binary.LittleEndian.Uint32(data)]
		if !ok {
			return cmifError(region, false, ResultObjectNotFound)
		}
		return moveReply(region, k.open(&session{port: s.port, root: obj}))
	case cmif.ControlCloneObject, cmif.ControlCloneObjectEx:
		return moveReply(region, k.open(&session{port: s.port, root: s.root, domain: s.domain}))
	case cmif.ControlQueryPointerBufferSize:
		w, err := cmif.MakeResponse(region, cmif.ResponseFormat{DataSize: 2})
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(w.Data(), s.port.PointerBufferSize)
		return nil
	default:
		return cmifError(region, false, ResultUnknownCommand)
	}
}

func moveReply(region *kernel.Region, h kernel.Handle) error {
	w, err := cmif.MakeResponse(region, cmif.ResponseFormat{NumMoveHandles: 1})
	if err != nil {
		return err
	}
	w.SetMoveHandle(0, h)
	return nil
}

func cmifError(region *kernel.Region, isDomain bool, rc protocol.Result) error {
	_, err := cmif.MakeResponse(region, cmif.ResponseFormat{IsDomain: isDomain, Result: rc})
	return err
}

// cmifFailure answers a request the server could not decode.
func (k *Kernel) cmifFailure(region *kernel.Region, isDomain bool, err error) error {
	k.log.Debug().Err(err).Msg("malformed cmif request")
	return cmifError(region, isDomain, resultOf(err))
}

func (k *Kernel) serveTIPC(s *session, region *kernel.Region) error {
	sr, err := tipc.ParseRequest(region)
	if err != nil {
		k.log.Debug().Err(err).Msg("malformed tipc request")
		_, werr := tipc.MakeResponse(region, tipc.ResponseFormat{Result: resultOf(err)})
		return werr
	}
	if sr.Close {
		s.closed = true
		k.stats.CloseMessages++
		return nil
	}
	req, err := decode(region, sr.Message, sr.Payload)
	if err != nil {
		_, werr := tipc.MakeResponse(region, tipc.ResponseFormat{Result: resultOf(err)})
		return werr
	}
	req.Command = sr.CommandID

	var resp Response
	if err := s.root.HandleRequest(req, &resp); err != nil {
		if errors.Is(err, ErrEmptyReply) {
			return tipc.MakeEmptyResponse(region)
		}
		_, werr := tipc.MakeResponse(region, tipc.ResponseFormat{Result: resultOf(err)})
		return werr
	}
	ports, err := k.lookupPorts(resp.Connect)
	if err != nil {
		_, werr := tipc.MakeResponse(region, tipc.ResponseFormat{Result: resultOf(err)})
		return werr
	}
	var moves []kernel.Handle
	for _, obj := range resp.Objects {
		moves = append(moves, k.open(&session{port: s.port, root: obj}))
	}
	moves = append(moves, k.openPorts(ports)...)
	w, err := tipc.MakeResponse(region, tipc.ResponseFormat{
		DataSize:       len(resp.Data),
		NumCopyHandles: len(resp.CopyHandles),
		NumMoveHandles: len(moves),
	})
	if err != nil {
		return err
	}
	copy(w.Data(), resp.Data)
	for i, h := range resp.CopyHandles {
		w.SetCopyHandle(i, h)
	}
	for i, h := range moves {
		w.SetMoveHandle(i, h)
	}
	return nil
}

// lookupPorts resolves every name before any session is opened so a missing
// port leaves nothing behind.
func (k *Kernel) lookupPorts(names []string) ([]*Port, error) {
	var out []*Port
	for _, name := range names {
		p, ok := k.ports[name]
		if !ok {
			return nil, fmt.Errorf("loopback: port %q: %w", name, kernel.ErrNotFound)
		}
		out = append(out, p)
	}
	return out, nil
}

func (k *Kernel) openPorts(ports []*Port) []kernel.Handle {
	var out []kernel.Handle
	for _, p := range ports {
		out = append(out, k.open(&session{port: p, root: p.New()}))
	}
	return out
}
