// Package ring implements a single-producer single-consumer ring buffer
// that decouples the emulation clock from the device clock.
//
// A Buffer owns a power-of-two sized byte arena. A View keeps the read and
// write cursors over the arena, one slot is always kept empty to tell a
// full ring from an empty one. Typed access goes through a Stream overlay
// that is validated and built once.
//
// Exactly one goroutine may write and exactly one goroutine may read a
// View. Cursor counts are safe to query from either side.
package ring

import (
	"errors"
	"math/bits"
	"sync/atomic"
	"unsafe"
)

// MaxSize is the largest arena Init accepts.
const MaxSize = 1 << 30

var (
	// ErrNotInitialized is returned when a view is created over an empty
	// buffer.
	ErrNotInitialized = errors.New("ring buffer is not initialized")
	// ErrElementSize is returned when an element type can't overlay the
	// arena.
	ErrElementSize = errors.New("element size doesn't divide ring capacity")
	// ErrAlignment is returned when the arena is not aligned for the
	// element type.
	ErrAlignment = errors.New("ring buffer is not aligned for element type")
	// ErrAlloc is returned by callers when Init fails.
	ErrAlloc = errors.New("ring buffer allocation failed")
)

// Buffer is a byte arena for a ring. It's never resized while a View uses
// it.
type Buffer struct {
	words []uint64
	data  []byte
}

// Init allocates the arena with at least size bytes, rounded up to the
// next power of two. It returns false if allocation failed or the size is
// out of range.
func (b *Buffer) Init(size int) (ok bool) {
	if size <= 0 || size > MaxSize {
		return false
	}
	n := CeilPow2(size)
	defer func() {
		if recover() != nil {
			b.Free()
			ok = false
		}
	}()
	// allocate words so the arena is 8 byte aligned
	words := (n + 7) / 8
	b.words = make([]uint64, words)
	b.data = unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(b.words))), n)
	return true
}

// Free releases the arena. It's safe to call on an uninitialized buffer
// and more than once.
func (b *Buffer) Free() {
	b.words = nil
	b.data = nil
}

// Len returns arena size in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// View holds cursors over a Buffer. Cursors are byte offsets masked by the
// arena size.
type View struct {
	data         []byte
	mask         uint64
	write        atomic.Uint64
	read         atomic.Uint64
	oversampling atomic.Bool
}

// NewView returns a view over initialized buffer.
func NewView(b *Buffer) (*View, error) {
	if b.Len() == 0 {
		return nil, ErrNotInitialized
	}
	return &View{
		data: b.data,
		mask: uint64(len(b.data) - 1),
	}, nil
}

// Size returns arena size in bytes.
func (v *View) Size() int {
	return len(v.data)
}

// readableBytes is safe to call from either side.
func (v *View) readableBytes() uint64 {
	return (v.write.Load() - v.read.Load()) & v.mask
}

// Oversampling reports if oversampling mode is on.
func (v *View) Oversampling() bool {
	return v.oversampling.Load()
}

func (v *View) setOversampling(enabled bool, elemSize uint64) {
	if enabled {
		w := v.write.Load()
		pair := elemSize * 2
		if w%pair != 0 {
			if v.readableBytes() != 0 {
				panic("ring: oversampling enabled on a misaligned non-empty view")
			}
			w -= w % pair
			v.read.Store(w)
			v.write.Store(w)
		}
	}
	v.oversampling.Store(enabled)
}

// Reset drops all readable data. It must not race with either side.
func (v *View) Reset() {
	v.read.Store(0)
	v.write.Store(0)
}

// CeilPow2 returns the smallest power of two not less than n.
func CeilPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// IsPow2 reports if n is a power of two.
func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}
