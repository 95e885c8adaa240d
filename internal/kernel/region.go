package kernel

import (
	"errors"
	"fmt"
)

// DefaultRegionSize matches the console's per-thread IPC buffer.
const DefaultRegionSize = 0x100

// Mapped buffers are placed above 4 GiB so the split address fields of every
// descriptor kind carry non-zero high bits.
const (
	mapBase  uint64 = 0x0000_0030_0000_0000
	mapAlign uint64 = 0x1000
)

var (
	ErrUnmapped  = errors.New("kernel: address not mapped in region")
	ErrStaleView = errors.New("kernel: message region view used after reuse")
)

// Region is the scratch buffer one call stream composes requests in and
// receives replies in. It also records the buffers lent to the kernel for the
// current call, which is how descriptor addresses are resolved without raw
// pointers.
//
// A Region is not safe for concurrent use; each call stream owns one.
type Region struct {
	buf  []byte
	gen  uint64
	maps []mapping
	next uint64
}

type mapping struct {
	addr uint64
	data []byte
}

func NewRegion(size int) *Region {
	if size <= 0 {
		size = DefaultRegionSize
	}
	return &Region{buf: make([]byte, size), next: mapBase}
}

func (r *Region) Bytes() []byte {
	return r.buf
}

func (r *Region) Len() int {
	return len(r.buf)
}

// Generation counts calls started on this region.
func (r *Region) Generation() uint64 {
	return r.gen
}

// Begin starts a new call: earlier views become stale, the buffer is zeroed
// and previous mappings are dropped.
func (r *Region) Begin() uint64 {
	r.gen++
	clear(r.buf)
	clear(r.maps)
	r.maps = r.maps[:0]
	r.next = mapBase
	return r.gen
}

// Map lends buf to the kernel for the current call and returns its address.
// Empty buffers map to address 0.
func (r *Region) Map(buf []byte) uint64 {
	if len(buf) == 0 {
		return 0
	}
	addr := r.next
	r.maps = append(r.maps, mapping{addr: addr, data: buf})
	span := (uint64(len(buf)) + mapAlign - 1) &^ (mapAlign - 1)
	r.next += span
	return addr
}

// Resolve returns the lent memory backing [addr, addr+size).
func (r *Region) Resolve(addr, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	for _, m := range r.maps {
		end := m.addr + uint64(len(m.data))
		if addr >= m.addr && addr+size <= end {
			off := addr - m.addr
			return m.data[off : off+size : off+size], nil
		}
	}
	return nil, fmt.Errorf("%w: %#x+%#x", ErrUnmapped, addr, size)
}

// View returns a borrowed window of n bytes at off, valid until the next Begin.
func (r *Region) View(off, n int) View {
	return View{region: r, gen: r.gen, off: off, n: n}
}

// View is a borrowed span of a Region tied to a single call. Reading it after
// the region has been reused panics.
type View struct {
	region *Region
	gen    uint64
	off    int
	n      int
}

func (v View) Len() int {
	return v.n
}

// Valid reports whether the call that produced v is still the current one.
func (v View) Valid() bool {
	return v.region != nil && v.region.gen == v.gen
}

func (v View) Bytes() []byte {
	if v.region == nil {
		return nil
	}
	if v.region.gen != v.gen {
		panic(ErrStaleView)
	}
	end := v.off + v.n
	return v.region.buf[v.off:end:end]
}

// Copy detaches the viewed bytes from the region.
func (v View) Copy() []byte {
	return append([]byte(nil), v.Bytes()...)
}

// Slice narrows v to [from, from+n).
func (v View) Slice(from, n int) View {
	if from < 0 || n < 0 || from+n > v.n {
		panic(fmt.Sprintf("kernel: view slice [%d:+%d] out of range %d", from, n, v.n))
	}
	v.off += from
	v.n = n
	return v
}
