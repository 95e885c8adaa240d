package kernel

import "fmt"

// Handle identifies one kernel object, usually one end of a session.
type Handle uint32

const InvalidHandle Handle = 0

func (h Handle) IsValid() bool {
	return h != InvalidHandle
}

func (h Handle) String() string {
	return fmt.Sprintf("%#x", uint32(h))
}
