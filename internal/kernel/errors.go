package kernel

import (
	"errors"
	"fmt"

	"github.com/danmuck/nxipc/internal/protocol"
)

// Error is a result code returned by a supervisor call.
type Error protocol.Result

const (
	ErrOutOfSessions        Error = 1 | 7<<9
	ErrTerminationRequested Error = 1 | 59<<9
	ErrOutOfResource        Error = 1 | 103<<9
	ErrOutOfHandles         Error = 1 | 105<<9
	ErrInvalidHandle        Error = 1 | 114<<9
	ErrTimedOut             Error = 1 | 117<<9
	ErrCancelled            Error = 1 | 118<<9
	ErrOutOfRange           Error = 1 | 119<<9
	ErrNotFound             Error = 1 | 121<<9
	ErrSessionClosed        Error = 1 | 123<<9
	ErrInvalidState         Error = 1 | 125<<9
	ErrPortClosed           Error = 1 | 131<<9
	ErrLimitReached         Error = 1 | 132<<9
)

var errorNames = map[Error]string{
	ErrOutOfSessions:        "out of sessions",
	ErrTerminationRequested: "termination requested",
	ErrOutOfResource:        "out of resource",
	ErrOutOfHandles:         "out of handles",
	ErrInvalidHandle:        "invalid handle",
	ErrTimedOut:             "timed out",
	ErrCancelled:            "cancelled",
	ErrOutOfRange:           "out of range",
	ErrNotFound:             "not found",
	ErrSessionClosed:        "session closed",
	ErrInvalidState:         "invalid state",
	ErrPortClosed:           "port closed",
	ErrLimitReached:         "limit reached",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return "kernel: " + name
	}
	return fmt.Sprintf("kernel: result %s", protocol.Result(e))
}

func (e Error) Result() protocol.Result {
	return protocol.Result(e)
}

// ResultOf extracts the kernel result carried by err.
func ResultOf(err error) protocol.Result {
	if err == nil {
		return protocol.ResultSuccess
	}
	var ke Error
	if errors.As(err, &ke) {
		return ke.Result()
	}
	return protocol.ResultUnknownTransport
}

// TransportError wraps a failed supervisor call in the transport error class.
func TransportError(op string, h Handle, err error) error {
	if err == nil {
		return nil
	}
	return &protocol.TransportError{
		Op:     op,
		Handle: uint32(h),
		Result: ResultOf(err),
		Err:    err,
	}
}
