package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol/session"
	"github.com/danmuck/nxipc/internal/services/apm"
	"github.com/danmuck/nxipc/internal/services/setsys"
	"github.com/danmuck/nxipc/internal/services/sm"
	"github.com/rs/zerolog/log"
)

// ServiceID names every service the registry can hold.
type ServiceID int

const (
	ServiceSM ServiceID = iota
	ServiceAPM
	ServiceSetSys
)

var AllServices = []ServiceID{ServiceSM, ServiceAPM, ServiceSetSys}

func (id ServiceID) String() string {
	switch id {
	case ServiceSM:
		return "sm"
	case ServiceAPM:
		return apm.ServiceName.String()
	case ServiceSetSys:
		return setsys.ServiceName.String()
	default:
		return fmt.Sprintf("service(%d)", int(id))
	}
}

// ServiceRegistry lazily connects each service once and hands out the
// shared client afterwards. Clients are released in reverse order of
// initialization.
type ServiceRegistry struct {
	sys  kernel.System
	opts []session.Option

	mu     sync.Mutex
	sm     *sm.Client
	apm    *apm.Manager
	setsys *setsys.Client
	order  []ServiceID
}

func NewServiceRegistry(sys kernel.System, opts ...session.Option) *ServiceRegistry {
	return &ServiceRegistry{sys: sys, opts: opts}
}

// SM returns the service manager client, connecting on first use.
func (r *ServiceRegistry) SM(ctx context.Context) (*sm.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.smLocked(ctx)
}

func (r *ServiceRegistry) smLocked(ctx context.Context) (*sm.Client, error) {
	if r.sm != nil {
		return r.sm, nil
	}
	c, err := sm.Connect(ctx, r.sys, r.opts...)
	if err != nil {
		return nil, err
	}
	r.sm = c
	r.initialized(ServiceSM)
	return c, nil
}

func (r *ServiceRegistry) APM(ctx context.Context) (*apm.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.apm != nil {
		return r.apm, nil
	}
	c, err := r.smLocked(ctx)
	if err != nil {
		return nil, err
	}
	m, err := apm.Open(c)
	if err != nil {
		return nil, err
	}
	r.apm = m
	r.initialized(ServiceAPM)
	return m, nil
}

func (r *ServiceRegistry) SetSys(ctx context.Context) (*setsys.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setsys != nil {
		return r.setsys, nil
	}
	c, err := r.smLocked(ctx)
	if err != nil {
		return nil, err
	}
	s, err := setsys.Open(c)
	if err != nil {
		return nil, err
	}
	r.setsys = s
	r.initialized(ServiceSetSys)
	return s, nil
}

func (r *ServiceRegistry) initialized(id ServiceID) {
	r.order = append(r.order, id)
	log.Debug().Stringer("service", id).Msg("service initialized")
}

// Initialized returns a snapshot of the live services in initialization
// order.
func (r *ServiceRegistry) Initialized() []ServiceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServiceID, len(r.order))
	copy(out, r.order)
	return out
}

// Close releases every live client, newest first, and empties the
// registry. All close errors are returned joined.
func (r *ServiceRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		id := r.order[i]
		if err := r.closeLocked(id); err != nil {
			errs = append(errs, fmt.Errorf("services: close %s: %w", id, err))
		}
	}
	r.order = nil
	return errors.Join(errs...)
}

func (r *ServiceRegistry) closeLocked(id ServiceID) error {
	var err error
	switch id {
	case ServiceSM:
		err = r.sm.Close()
		r.sm = nil
	case ServiceAPM:
		err = r.apm.Close()
		r.apm = nil
	case ServiceSetSys:
		err = r.setsys.Close()
		r.setsys = nil
	}
	log.Debug().Err(err).Stringer("service", id).Msg("service closed")
	return err
}
