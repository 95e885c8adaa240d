package hostsim

import (
	"encoding/binary"

	"github.com/danmuck/nxipc/internal/kernel/loopback"
	"github.com/danmuck/nxipc/internal/services/apm"
)

type apmManager struct {
	host *Host
}

func (h *Host) newAPM() loopback.Object {
	return &apmManager{host: h}
}

func (m *apmManager) HandleRequest(req *loopback.Request, resp *loopback.Response) error {
	switch req.Command {
	case apm.CmdOpenSession:
		resp.Objects = append(resp.Objects, &apmSession{host: m.host})
		return nil
	case apm.CmdGetPerformanceMode:
		m.host.mu.Lock()
		mode := m.host.mode
		m.host.mu.Unlock()
		resp.Data = binary.LittleEndian.AppendUint32(nil, uint32(mode))
		return nil
	default:
		return loopback.ErrUnknownCommand
	}
}

type apmSession struct {
	host *Host
}

func (s *apmSession) HandleRequest(req *loopback.Request, resp *loopback.Response) error {
	switch req.Command {
	case apm.CmdSetPerformanceConfiguration:
		if len(req.Data) < 8 {
			return loopback.ErrUnknownCommand
		}
		mode := apm.PerformanceMode(int32(binary.LittleEndian.Uint32(req.Data)))
		s.host.mu.Lock()
		s.host.configs[mode] = binary.LittleEndian.Uint32(req.Data[4:])
		s.host.mu.Unlock()
		return nil
	case apm.CmdGetPerformanceConfiguration:
		if len(req.Data) < 4 {
			return loopback.ErrUnknownCommand
		}
		mode := apm.PerformanceMode(int32(binary.LittleEndian.Uint32(req.Data)))
		s.host.mu.Lock()
		conf := s.host.configs[mode]
		s.host.mu.Unlock()
		resp.Data = binary.LittleEndian.AppendUint32(nil, conf)
		return nil
	default:
		return loopback.ErrUnknownCommand
	}
}
