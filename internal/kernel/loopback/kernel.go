package loopback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/rs/zerolog"
)

var ErrPortExists = errors.New("loopback: port already registered")

// Port is a named endpoint clients connect to.
type Port struct {
	Name              string
	Dialect           Dialect
	PointerBufferSize uint16
	// Unavailable makes that many connects fail with not found first,
	// like a service that has not registered yet.
	Unavailable int
	// New builds the root object of each new session.
	New func() Object
}

// Stats counts what the kernel has seen.
type Stats struct {
	Requests      int
	CloseMessages int
	HandlesClosed int
	OpenSessions  int
}

type session struct {
	port   *Port
	root   Object
	domain *domain
	closed bool
}

// domain is shared by every session cloned from the one that converted.
type domain struct {
	objects map[uint32]Object
	next    uint32
}

func (d *domain) add(obj Object) uint32 {
	id := d.next
	d.next++
	d.objects[id] = obj
	return id
}

// Kernel is a single-process kernel.System. Requests are served one at a
// time.
type Kernel struct {
	mu       sync.Mutex
	log      zerolog.Logger
	next     kernel.Handle
	ports    map[string]*Port
	sessions map[kernel.Handle]*session
	faults   map[kernel.Handle][]error
	stats    Stats
}

var _ kernel.System = (*Kernel)(nil)

func New(log zerolog.Logger) *Kernel {
	return &Kernel{
		log:      log,
		next:     0x1000,
		ports:    make(map[string]*Port),
		sessions: make(map[kernel.Handle]*session),
		faults:   make(map[kernel.Handle][]error),
	}
}

// Register publishes p under p.Name.
func (k *Kernel) Register(p Port) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.ports[p.Name]; ok {
		return fmt.Errorf("%w: %q", ErrPortExists, p.Name)
	}
	if p.New == nil {
		return fmt.Errorf("loopback: port %q has no object factory", p.Name)
	}
	k.ports[p.Name] = &p
	k.log.Debug().Str("port", p.Name).Stringer("dialect", p.Dialect).Msg("port registered")
	return nil
}

func (k *Kernel) ConnectToNamedPort(name string) (kernel.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.ports[name]
	if !ok {
		return kernel.InvalidHandle, kernel.ErrNotFound
	}
	if p.Unavailable > 0 {
		p.Unavailable--
		return kernel.InvalidHandle, kernel.ErrNotFound
	}
	h := k.open(&session{port: p, root: p.New()})
	k.log.Debug().Str("port", name).Stringer("handle", h).Msg("port connected")
	return h, nil
}

// Inject queues err as the outcome of the next send on h.
func (k *Kernel) Inject(h kernel.Handle, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.faults[h] = append(k.faults[h], err)
}

func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	st := k.stats
	st.OpenSessions = len(k.sessions)
	return st
}

// DomainObjects reports how many objects live in the domain behind h, or
// -1 when h is not a domain session.
func (k *Kernel) DomainObjects(h kernel.Handle) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sessions[h]
	if !ok || s.domain == nil {
		return -1
	}
	return len(s.domain.objects)
}

func (k *Kernel) SendSyncRequest(h kernel.Handle, region *kernel.Region) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if q := k.faults[h]; len(q) > 0 {
		err := q[0]
		if len(q) == 1 {
			delete(k.faults, h)
		} else {
			k.faults[h] = q[1:]
		}
		return err
	}
	s, ok := k.sessions[h]
	if !ok {
		return kernel.ErrInvalidHandle
	}
	if s.closed {
		return kernel.ErrSessionClosed
	}
	k.stats.Requests++
	if s.port.Dialect == TIPC {
		return k.serveTIPC(s, region)
	}
	return k.serveCMIF(s, region)
}

func (k *Kernel) CloseHandle(h kernel.Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.sessions[h]; !ok {
		return kernel.ErrInvalidHandle
	}
	delete(k.sessions, h)
	delete(k.faults, h)
	k.stats.HandlesClosed++
	k.log.Debug().Stringer("handle", h).Msg("handle closed")
	return nil
}

func (k *Kernel) open(s *session) kernel.Handle {
	h := k.next
	k.next++
	k.sessions[h] = s
	return h
}
