package kernel

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Call is one recorded supervisor call.
type Call struct {
	ID          uuid.UUID
	Op          string
	Handle      Handle
	MessageType uint16
	Started     time.Time
	Duration    time.Duration
	Err         error
}

// Recorder is Kernel middleware that keeps the most recent calls.
type Recorder struct {
	next  Kernel
	limit int
	log   zerolog.Logger

	mu    sync.RWMutex
	calls []Call
}

func NewRecorder(next Kernel, limit int, log zerolog.Logger) *Recorder {
	if limit <= 0 {
		limit = 256
	}
	return &Recorder{next: next, limit: limit, log: log}
}

func (r *Recorder) SendSyncRequest(h Handle, region *Region) error {
	var msgType uint16
	if region.Len() >= 2 {
		msgType = binary.LittleEndian.Uint16(region.Bytes())
	}
	start := time.Now()
	err := r.next.SendSyncRequest(h, region)
	r.record(Call{
		ID:          uuid.New(),
		Op:          "send_sync_request",
		Handle:      h,
		MessageType: msgType,
		Started:     start,
		Duration:    time.Since(start),
		Err:         err,
	})
	return err
}

func (r *Recorder) CloseHandle(h Handle) error {
	start := time.Now()
	err := r.next.CloseHandle(h)
	r.record(Call{ID: uuid.New(), Op: "close_handle", Handle: h, Started: start, Duration: time.Since(start), Err: err})
	return err
}

// ConnectToNamedPort forwards when the wrapped kernel can reach ports.
func (r *Recorder) ConnectToNamedPort(name string) (Handle, error) {
	pc, ok := r.next.(PortConnector)
	if !ok {
		return InvalidHandle, ErrNotFound
	}
	start := time.Now()
	h, err := pc.ConnectToNamedPort(name)
	r.record(Call{ID: uuid.New(), Op: "connect_to_named_port", Handle: h, Started: start, Duration: time.Since(start), Err: err})
	return h, err
}

// Calls returns a snapshot, oldest first.
func (r *Recorder) Calls() []Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *Recorder) record(c Call) {
	ev := r.log.Debug()
	if c.Err != nil {
		ev = r.log.Warn().Err(c.Err)
	}
	ev.Str("call_id", c.ID.String()).
		Str("op", c.Op).
		Stringer("handle", c.Handle).
		Uint16("message_type", c.MessageType).
		Dur("duration", c.Duration).
		Msg("kernel_call")

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == r.limit {
		copy(r.calls, r.calls[1:])
		r.calls = r.calls[:len(r.calls)-1]
	}
	r.calls = append(r.calls, c)
}
