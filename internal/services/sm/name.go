package sm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidName = errors.New("sm: invalid service name")

// ServiceName is up to eight ASCII bytes packed little-endian into a u64,
// zero padded.
type ServiceName uint64

const MaxNameLength = 8

func NewServiceName(s string) (ServiceName, error) {
	if s == "" || len(s) > MaxNameLength {
		return 0, fmt.Errorf("%w: %q must be 1 to %d bytes", ErrInvalidName, s, MaxNameLength)
	}
	var b [MaxNameLength]byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x21 || c > 0x7E {
			return 0, fmt.Errorf("%w: %q has byte %#x at %d", ErrInvalidName, s, c, i)
		}
		b[i] = c
	}
	return ServiceName(binary.LittleEndian.Uint64(b[:])), nil
}

// MustServiceName is NewServiceName for package-level constants.
func MustServiceName(s string) ServiceName {
	n, err := NewServiceName(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n ServiceName) Bytes() [MaxNameLength]byte {
	var b [MaxNameLength]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	return b
}

func (n ServiceName) String() string {
	b := n.Bytes()
	return strings.TrimRight(string(b[:]), "\x00")
}

func (n ServiceName) IsZero() bool {
	return n == 0
}
