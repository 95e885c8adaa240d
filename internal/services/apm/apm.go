// Package apm is the client for the performance manager.
package apm

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/nxipc/internal/protocol/session"
	"github.com/danmuck/nxipc/internal/services/sm"
)

var ServiceName = sm.MustServiceName("apm")

// Manager commands.
const (
	CmdOpenSession        uint32 = 0
	CmdGetPerformanceMode uint32 = 1
)

// Session commands.
const (
	CmdSetPerformanceConfiguration uint32 = 0
	CmdGetPerformanceConfiguration uint32 = 1
)

type PerformanceMode int32

const (
	PerformanceModeInvalid PerformanceMode = -1
	PerformanceModeNormal  PerformanceMode = 0
	PerformanceModeBoost   PerformanceMode = 1
)

func (m PerformanceMode) String() string {
	switch m {
	case PerformanceModeInvalid:
		return "invalid"
	case PerformanceModeNormal:
		return "normal"
	case PerformanceModeBoost:
		return "boost"
	default:
		return fmt.Sprintf("performance_mode(%d)", int32(m))
	}
}

func (m PerformanceMode) IsValid() bool {
	return m == PerformanceModeNormal || m == PerformanceModeBoost
}

// Manager is the apm root interface.
type Manager struct {
	svc *session.Service
}

// Open asks sm for the apm service.
func Open(c *sm.Client, opts ...session.Option) (*Manager, error) {
	svc, err := c.GetService(ServiceName, opts...)
	if err != nil {
		return nil, err
	}
	return New(svc), nil
}

func New(svc *session.Service) *Manager {
	return &Manager{svc: svc}
}

func (m *Manager) Service() *session.Service {
	return m.svc
}

// GetPerformanceMode reports the current mode. A raw value outside the
// known modes is returned as is.
func (m *Manager) GetPerformanceMode() (PerformanceMode, error) {
	reply, err := m.svc.Dispatch(CmdGetPerformanceMode).OutSize(4).Send()
	if err != nil {
		return PerformanceModeInvalid, fmt.Errorf("apm: get performance mode: %w", err)
	}
	return PerformanceMode(int32(binary.LittleEndian.Uint32(reply.Data.Bytes()))), nil
}

// OpenSession opens an ISession, as a domain object when the manager is a
// domain and as its own session otherwise.
func (m *Manager) OpenSession() (*Session, error) {
	reply, err := m.svc.Dispatch(CmdOpenSession).Send()
	if err != nil {
		return nil, fmt.Errorf("apm: open session: %w", err)
	}
	if m.svc.IsDomain() {
		obj, err := reply.Object(0, m.svc)
		if err != nil {
			return nil, fmt.Errorf("apm: open session: %w", err)
		}
		return &Session{obj: obj}, nil
	}
	h, err := reply.MoveHandle(0)
	if err != nil {
		return nil, fmt.Errorf("apm: open session: %w", err)
	}
	return &Session{obj: m.svc.NewSubservice(h)}, nil
}

func (m *Manager) Close() error {
	return m.svc.Close()
}

// Session is one ISession.
type Session struct {
	obj session.Object
}

func (s *Session) Object() session.Object {
	return s.obj
}

func (s *Session) SetPerformanceConfiguration(mode PerformanceMode, config uint32) error {
	in := make([]byte, 8)
	binary.LittleEndian.PutUint32(in, uint32(mode))
	binary.LittleEndian.PutUint32(in[4:], config)
	if _, err := s.obj.Dispatch(CmdSetPerformanceConfiguration).In(in).Send(); err != nil {
		return fmt.Errorf("apm: set performance configuration: %w", err)
	}
	return nil
}

func (s *Session) GetPerformanceConfiguration(mode PerformanceMode) (uint32, error) {
	in := binary.LittleEndian.AppendUint32(nil, uint32(mode))
	reply, err := s.obj.Dispatch(CmdGetPerformanceConfiguration).In(in).OutSize(4).Send()
	if err != nil {
		return 0, fmt.Errorf("apm: get performance configuration: %w", err)
	}
	return binary.LittleEndian.Uint32(reply.Data.Bytes()), nil
}

func (s *Session) Close() error {
	return s.obj.Close()
}
