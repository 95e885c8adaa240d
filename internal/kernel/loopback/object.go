package loopback

import (
	"errors"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol"
)

// Dialect is the serialization a port speaks.
type Dialect int

const (
	CMIF Dialect = iota
	TIPC
)

func (d Dialect) String() string {
	if d == TIPC {
		return "tipc"
	}
	return "cmif"
}

// Server-side result codes the loopback kernel produces on its own.
var (
	ResultUnknownCommand = protocol.MakeResult(protocol.ModuleHomebrew, 20)
	ResultObjectNotFound = protocol.MakeResult(protocol.ModuleHomebrew, 21)
	ResultAlreadyDomain  = protocol.MakeResult(protocol.ModuleHomebrew, 22)
	ResultNotDomain      = protocol.MakeResult(protocol.ModuleHomebrew, 23)
)

// ErrEmptyReply makes a TIPC server answer with no data words at all.
var ErrEmptyReply = errors.New("loopback: empty reply")

// Request is one decoded command.
type Request struct {
	Command uint32
	Token   uint32
	// PID is hipc.NoPID unless the client asked for it to be sent.
	PID          uint64
	Data         []byte
	InBuffers    [][]byte
	OutBuffers   [][]byte
	InOutBuffers [][]byte
	InPointers   [][]byte
	OutPointers  [][]byte
	InObjects    []Object
	CopyHandles  []kernel.Handle
	MoveHandles  []kernel.Handle
}

// Response is filled by the object handling a Request. Objects become
// domain object ids on a domain session and new sessions otherwise. Each
// name in Connect opens a fresh session on that port, moved to the client
// after any object sessions.
type Response struct {
	Data        []byte
	Objects     []Object
	Connect     []string
	CopyHandles []kernel.Handle
}

// Object serves the commands of one session or domain object.
type Object interface {
	HandleRequest(req *Request, resp *Response) error
}

type ObjectFunc func(req *Request, resp *Response) error

func (f ObjectFunc) HandleRequest(req *Request, resp *Response) error {
	return f(req, resp)
}

// Fail returns the error a handler uses to reply with result code rc.
func Fail(rc protocol.Result) error {
	return &protocol.ServiceError{Code: rc}
}

// ErrUnknownCommand is the reply to a command an object does not implement.
var ErrUnknownCommand = Fail(ResultUnknownCommand)

func resultOf(err error) protocol.Result {
	var ke kernel.Error
	if errors.As(err, &ke) {
		return ke.Result()
	}
	return protocol.ResultOf(err)
}
