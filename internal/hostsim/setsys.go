package hostsim

import (
	"github.com/danmuck/nxipc/internal/kernel/loopback"
	"github.com/danmuck/nxipc/internal/services/setsys"
)

type setSysServer struct {
	host *Host
}

func (h *Host) newSetSys() loopback.Object {
	return &setSysServer{host: h}
}

func (s *setSysServer) HandleRequest(req *loopback.Request, resp *loopback.Response) error {
	switch req.Command {
	case setsys.CmdGetFirmwareVersion, setsys.CmdGetFirmwareVersion2:
		out := firstBuffer(req.OutPointers, req.OutBuffers)
		if len(out) < setsys.FirmwareVersionSize {
			return loopback.Fail(ResultBufferTooSmall)
		}
		v := s.host.cfg.Firmware
		if req.Command == setsys.CmdGetFirmwareVersion {
			v.RevisionMajor, v.RevisionMinor = 0, 0
		}
		v.Encode(out)
		return nil
	default:
		return loopback.ErrUnknownCommand
	}
}

func firstBuffer(lists ...[][]byte) []byte {
	for _, list := range lists {
		for _, b := range list {
			if len(b) > 0 {
				return b
			}
		}
	}
	return nil
}
