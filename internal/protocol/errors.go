package protocol

import (
	"errors"
	"fmt"
)

// Class identifies which of the three failure families an error belongs to.
type Class int

const (
	ClassNone Class = iota
	ClassTransport
	ClassParse
	ClassService
	ClassOther
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransport:
		return "transport"
	case ClassParse:
		return "parse"
	case ClassService:
		return "service"
	default:
		return "other"
	}
}

var (
	ErrTransport = errors.New("protocol: transport failure")
	ErrParse     = errors.New("protocol: parse failure")
	ErrService   = errors.New("protocol: service error")
	ErrNotFound  = errors.New("protocol: not found")
)

var (
	ErrRegionTooSmall     error = &parseError{msg: "protocol: message region too small", code: ResultRegionTooSmall}
	ErrTruncated          error = &parseError{msg: "protocol: truncated message", code: ResultTruncated}
	ErrInvalidMagic       error = &parseError{msg: "protocol: invalid magic", code: ResultInvalidMagic}
	ErrTooManyDescriptors error = &parseError{msg: "protocol: too many descriptors", code: ResultTooManyDescriptors}
)

type parseError struct {
	msg  string
	code Result
}

func (e *parseError) Error() string {
	return e.msg
}

func (e *parseError) Is(target error) bool {
	return target == ErrParse
}

// TransportKind narrows a transport failure to the cases callers act on.
type TransportKind int

const (
	TransportUnknown TransportKind = iota
	TransportInvalidHandle
	TransportSessionClosed
	TransportOutOfResource
	TransportTerminationRequested
)

func (k TransportKind) String() string {
	switch k {
	case TransportInvalidHandle:
		return "invalid handle"
	case TransportSessionClosed:
		return "session closed"
	case TransportOutOfResource:
		return "out of resource"
	case TransportTerminationRequested:
		return "termination requested"
	default:
		return "unknown"
	}
}

var transportKinds = map[Result]TransportKind{
	MakeResult(ModuleKernel, 59):  TransportTerminationRequested,
	MakeResult(ModuleKernel, 103): TransportOutOfResource,
	MakeResult(ModuleKernel, 114): TransportInvalidHandle,
	MakeResult(ModuleKernel, 123): TransportSessionClosed,
}

// TransportError reports that the kernel refused or aborted a send. It is
// never retried inside the core.
type TransportError struct {
	Op     string
	Handle uint32
	Result Result
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("protocol: %s on handle %#x failed: %s (%s)", e.Op, e.Handle, e.Kind(), e.Result)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Kind() TransportKind {
	return transportKinds[e.Result]
}

// ServiceError carries the non-zero result code of a structurally valid
// response. The code is kept exactly as received.
type ServiceError struct {
	Code Result
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("protocol: service returned %s (%#x)", e.Code, uint32(e.Code))
}

func (e *ServiceError) Is(target error) bool {
	if target == ErrService {
		return true
	}
	return target == ErrNotFound && e.Code == ResultNotFound
}

// Classify reports the failure family of err.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrTransport):
		return ClassTransport
	case errors.Is(err, ErrParse):
		return ClassParse
	case errors.Is(err, ErrService):
		return ClassService
	default:
		return ClassOther
	}
}

// ResultOf flattens err into one numeric code. Only ABI bridges should need
// this; everything inside the module keeps the typed error.
func ResultOf(err error) Result {
	if err == nil {
		return ResultSuccess
	}
	var svc *ServiceError
	if errors.As(err, &svc) {
		return svc.Code
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Result
	}
	var pe *parseError
	if errors.As(err, &pe) {
		return pe.code
	}
	return ResultUnknown
}
