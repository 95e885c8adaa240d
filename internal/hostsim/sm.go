package hostsim

import (
	"encoding/binary"

	"github.com/danmuck/nxipc/internal/kernel/loopback"
	"github.com/danmuck/nxipc/internal/protocol/hipc"
	"github.com/danmuck/nxipc/internal/services/sm"
)

// smSession is one client connection to the service manager.
type smSession struct {
	host       *Host
	registered bool
}

func (h *Host) newSM() loopback.Object {
	return &smSession{host: h}
}

func (s *smSession) HandleRequest(req *loopback.Request, resp *loopback.Response) error {
	h := s.host
	switch req.Command {
	case sm.CmdRegisterClient:
		if req.PID == hipc.NoPID {
			return loopback.Fail(ResultInvalidClient)
		}
		if !s.registered {
			s.registered = true
			h.mu.Lock()
			h.clients++
			h.mu.Unlock()
		}
		return nil
	case sm.CmdGetServiceHandle:
		if !s.registered {
			return loopback.Fail(ResultInvalidClient)
		}
		name, ok := readName(req.Data)
		if !ok {
			return loopback.Fail(ResultNotRegistered)
		}
		h.mu.Lock()
		port, ok := h.services[name]
		h.mu.Unlock()
		if !ok {
			h.log.Debug().Stringer("service", name).Msg("service not registered")
			return loopback.Fail(ResultNotRegistered)
		}
		if port == "" {
			resp.Objects = append(resp.Objects, idle)
		} else {
			resp.Connect = append(resp.Connect, port)
		}
		return nil
	case sm.CmdRegisterService:
		name, ok := readName(req.Data)
		if !ok {
			return loopback.Fail(ResultNotRegistered)
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, exists := h.services[name]; exists {
			return loopback.Fail(ResultAlreadyRegistered)
		}
		h.services[name] = ""
		resp.Objects = append(resp.Objects, idle)
		return nil
	case sm.CmdUnregisterService:
		name, ok := readName(req.Data)
		if !ok {
			return loopback.Fail(ResultNotRegistered)
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, exists := h.services[name]; !exists {
			return loopback.Fail(ResultNotRegistered)
		}
		delete(h.services, name)
		return nil
	case sm.CmdDetachClient:
		if s.registered {
			s.registered = false
			h.mu.Lock()
			h.clients--
			h.mu.Unlock()
		}
		return nil
	default:
		return loopback.ErrUnknownCommand
	}
}

func readName(data []byte) (sm.ServiceName, bool) {
	if len(data) < 8 {
		return 0, false
	}
	return sm.ServiceName(binary.LittleEndian.Uint64(data)), true
}

// idle stands in for services registered at runtime, which have no server
// behind them in the simulation.
var idle = loopback.ObjectFunc(func(*loopback.Request, *loopback.Response) error {
	return loopback.ErrUnknownCommand
})
