package ring

import (
	"fmt"
	"math/bits"
	"unsafe"
)

// Stream is a typed overlay of a View. Several overlays may share one View,
// cursors advance in elements of the overlay used.
type Stream[E any] struct {
	v     *View
	elems []E
	shift uint
}

// Overlay validates that E fits the arena and builds the typed overlay.
// It's done once per view and element type.
func Overlay[E any](v *View) (*Stream[E], error) {
	var zero E
	size := int(unsafe.Sizeof(zero))
	if !IsPow2(size) || size > len(v.data) {
		return nil, fmt.Errorf("%w: element %T is %d bytes, capacity %d bytes", ErrElementSize, zero, size, len(v.data))
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(v.data)))
	if base%unsafe.Alignof(zero) != 0 {
		return nil, fmt.Errorf("%w: %T", ErrAlignment, zero)
	}
	return &Stream[E]{
		v:     v,
		elems: unsafe.Slice((*E)(unsafe.Pointer(unsafe.SliceData(v.data))), len(v.data)/size),
		shift: uint(bits.TrailingZeros(uint(size))),
	}, nil
}

// View returns underlying view.
func (s *Stream[E]) View() *View {
	return s.v
}

// SetOversampling toggles oversampling mode. It's called by the producer
// between batches. In oversampling mode writes come in pairs and two
// slots are kept empty. Enabling on an odd write cursor is only allowed
// when the view is empty, both cursors are aligned down then.
func (s *Stream[E]) SetOversampling(enabled bool) {
	s.v.setOversampling(enabled, 1<<s.shift)
}

// Capacity returns number of element slots. A stream holds at most
// Capacity()-1 elements.
func (s *Stream[E]) Capacity() int {
	return len(s.elems)
}

// Readable returns number of elements available to the consumer.
func (s *Stream[E]) Readable() int {
	return int(s.v.readableBytes() >> s.shift)
}

// Writable returns number of free slots available to the producer.
func (s *Stream[E]) Writable() int {
	reserved := 1
	if s.v.oversampling.Load() {
		reserved = 2
	}
	n := len(s.elems) - reserved - s.Readable()
	if n < 0 {
		return 0
	}
	return n
}

// ReserveWrite returns exactly n contiguous free slots. The caller must
// make sure n slots are writable and the batch doesn't wrap, batches are
// expected to be aligned to a size that divides capacity.
func (s *Stream[E]) ReserveWrite(n int) []E {
	if n > s.Writable() {
		panic(fmt.Sprintf("ring: reserve write %d, writable %d", n, s.Writable()))
	}
	if n%2 != 0 && s.v.oversampling.Load() {
		panic(fmt.Sprintf("ring: odd write %d in oversampling mode", n))
	}
	w := int(s.v.write.Load() >> s.shift)
	if w+n > len(s.elems) {
		panic(fmt.Sprintf("ring: write batch [%d, %d) wraps capacity %d", w, w+n, len(s.elems)))
	}
	return s.elems[w : w+n : w+n]
}

// CommitWrite publishes n written elements to the consumer.
func (s *Stream[E]) CommitWrite(n int) {
	s.v.write.Store((s.v.write.Load() + uint64(n)<<s.shift) & s.v.mask)
}

// ReserveRead returns exactly n contiguous readable elements. The same
// alignment rules as for ReserveWrite apply.
func (s *Stream[E]) ReserveRead(n int) []E {
	if n > s.Readable() {
		panic(fmt.Sprintf("ring: reserve read %d, readable %d", n, s.Readable()))
	}
	r := int(s.v.read.Load() >> s.shift)
	if r+n > len(s.elems) {
		panic(fmt.Sprintf("ring: read batch [%d, %d) wraps capacity %d", r, r+n, len(s.elems)))
	}
	return s.elems[r : r+n : r+n]
}

// CommitRead releases n consumed elements to the producer.
func (s *Stream[E]) CommitRead(n int) {
	s.v.read.Store((s.v.read.Load() + uint64(n)<<s.shift) & s.v.mask)
}

// Segments returns n readable elements as up to two slices, the second one
// is non-empty when the range wraps. It doesn't commit.
func (s *Stream[E]) Segments(n int) (head, tail []E) {
	if n > s.Readable() {
		panic(fmt.Sprintf("ring: read segments %d, readable %d", n, s.Readable()))
	}
	r := int(s.v.read.Load() >> s.shift)
	if r+n <= len(s.elems) {
		return s.elems[r : r+n], nil
	}
	return s.elems[r:], s.elems[:r+n-len(s.elems)]
}

// Read copies up to len(dst) elements and commits them. It returns number
// of copied elements.
func (s *Stream[E]) Read(dst []E) int {
	n := min(len(dst), s.Readable())
	if n == 0 {
		return 0
	}
	head, tail := s.Segments(n)
	copy(dst[copy(dst, head):], tail)
	s.CommitRead(n)
	return n
}

// Write copies as many elements of src as fit and commits them. It returns
// number of copied elements. In oversampling mode only pairs are written.
func (s *Stream[E]) Write(src []E) int {
	n := min(len(src), s.Writable())
	if s.v.oversampling.Load() {
		n &^= 1
	}
	if n == 0 {
		return 0
	}
	w := int(s.v.write.Load() >> s.shift)
	c := copy(s.elems[w:], src[:n])
	copy(s.elems, src[c:n])
	s.CommitWrite(n)
	return n
}
