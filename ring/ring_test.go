package ring_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/emustream/ring"
	"github.com/dudk/emustream/signal"
)

func newStream[E any](t *testing.T, size int) *ring.Stream[E] {
	t.Helper()
	var b ring.Buffer
	require.True(t, b.Init(size))
	t.Cleanup(b.Free)
	v, err := ring.NewView(&b)
	require.NoError(t, err)
	s, err := ring.Overlay[E](v)
	require.NoError(t, err)
	return s
}

func TestInit(t *testing.T) {
	tests := []struct {
		description string
		size        int
		ok          bool
		expected    int
	}{
		{description: "power of two", size: 1024, ok: true, expected: 1024},
		{description: "rounded up", size: 1 + 512*16*4, ok: true, expected: 65536},
		{description: "one byte", size: 1, ok: true, expected: 1},
		{description: "zero", size: 0},
		{description: "negative", size: -8},
		{description: "too large", size: ring.MaxSize + 1},
	}
	for _, test := range tests {
		var b ring.Buffer
		ok := b.Init(test.size)
		assert.Equal(t, test.ok, ok, test.description)
		assert.Equal(t, test.expected, b.Len(), test.description)
		b.Free()
		b.Free()
		assert.Equal(t, 0, b.Len(), test.description)
	}
}

func TestNewView(t *testing.T) {
	var b ring.Buffer
	_, err := ring.NewView(&b)
	assert.ErrorIs(t, err, ring.ErrNotInitialized)

	require.True(t, b.Init(4))
	v, err := ring.NewView(&b)
	require.NoError(t, err)
	_, err = ring.Overlay[signal.Frame[int32]](v)
	assert.ErrorIs(t, err, ring.ErrElementSize)
	_, err = ring.Overlay[[3]byte](v)
	assert.ErrorIs(t, err, ring.ErrElementSize)
}

func TestCapacity(t *testing.T) {
	s := newStream[signal.Frame[int16]](t, 64)
	assert.Equal(t, 16, s.Capacity())
	assert.Equal(t, 0, s.Readable())
	assert.Equal(t, 15, s.Writable())

	// a capacity C ring holds exactly C-1 elements
	src := make([]signal.Frame[int16], 32)
	assert.Equal(t, 15, s.Write(src))
	assert.Equal(t, 15, s.Readable())
	assert.Equal(t, 0, s.Writable())
	assert.Equal(t, 0, s.Write(src))
}

func TestCountsInvariant(t *testing.T) {
	s := newStream[int32](t, 64)
	buf := make([]int32, 7)
	for i := 0; i < 100; i++ {
		s.Write(buf[:i%7+1])
		assert.Equal(t, s.Capacity()-1, s.Readable()+s.Writable())
		s.Read(buf[:i%5+1])
		assert.Equal(t, s.Capacity()-1, s.Readable()+s.Writable())
		assert.GreaterOrEqual(t, s.Readable(), 0)
		assert.GreaterOrEqual(t, s.Writable(), 0)
	}
}

func TestFIFO(t *testing.T) {
	s := newStream[int16](t, 32)
	var next, expected int16
	out := make([]int16, 5)
	for round := 0; round < 50; round++ {
		in := make([]int16, round%9)
		for i := range in {
			in[i] = next
			next++
		}
		n := s.Write(in)
		next -= int16(len(in) - n)
		read := s.Read(out)
		for _, v := range out[:read] {
			assert.Equal(t, expected, v)
			expected++
		}
	}
}

func TestBatches(t *testing.T) {
	const page = 4
	s := newStream[signal.Frame[float32]](t, 16*8)
	assert.Equal(t, 16, s.Capacity())

	for i := 0; i < 10; i++ {
		batch := s.ReserveWrite(page)
		require.Len(t, batch, page)
		for j := range batch {
			batch[j] = signal.Frame[float32]{L: float32(i), R: float32(j)}
		}
		s.CommitWrite(page)

		read := s.ReserveRead(page)
		for j := range read {
			assert.Equal(t, signal.Frame[float32]{L: float32(i), R: float32(j)}, read[j])
		}
		s.CommitRead(page)
	}
}

func TestReservePreconditions(t *testing.T) {
	s := newStream[int32](t, 32)
	assert.Panics(t, func() { s.ReserveWrite(8) }, "more than writable")
	assert.Panics(t, func() { s.ReserveRead(1) }, "nothing readable")

	s.Write(make([]int32, 6))
	s.Read(make([]int32, 6))
	assert.Panics(t, func() { s.ReserveWrite(4) }, "batch wraps")
}

func TestSegments(t *testing.T) {
	s := newStream[int16](t, 16)
	s.Write([]int16{0, 0, 0, 0, 0, 0})
	s.Read(make([]int16, 6))
	s.Write([]int16{1, 2, 3, 4})
	head, tail := s.Segments(4)
	assert.Equal(t, []int16{1, 2}, head)
	assert.Equal(t, []int16{3, 4}, tail)
	assert.Equal(t, 4, s.Readable(), "segments don't commit")
}

func TestOversampling(t *testing.T) {
	s := newStream[int16](t, 16)
	s.Write([]int16{1})
	s.Read(make([]int16, 1))
	s.SetOversampling(true)
	assert.Equal(t, 6, s.Writable(), "two slots are kept empty")
	assert.Equal(t, 0, s.Readable())

	batch := s.ReserveWrite(2)
	assert.Len(t, batch, 2)
	s.CommitWrite(2)
	assert.Panics(t, func() { s.ReserveWrite(1) }, "odd write")

	s.SetOversampling(false)
	assert.Equal(t, 5, s.Writable())
	assert.Panics(t, func() {
		s.Write([]int16{1})
		s.SetOversampling(true)
	}, "misaligned non-empty view")
}

func TestOversamplingWrite(t *testing.T) {
	s := newStream[int16](t, 16)
	s.SetOversampling(true)
	assert.Equal(t, 2, s.Write([]int16{1, 2, 3}), "pairs only")
	assert.Equal(t, 4, s.Write([]int16{3, 4, 5, 6, 7}))
	assert.Equal(t, 6, s.Readable())
	assert.Equal(t, 0, s.Writable())

	s.Read(make([]int16, 1))
	assert.Equal(t, 1, s.Writable())
	assert.Equal(t, 0, s.Write([]int16{8}))

	dst := make([]int16, 5)
	assert.Equal(t, 5, s.Read(dst))
	assert.Equal(t, []int16{2, 3, 4, 5, 6}, dst)
}

func TestConcurrent(t *testing.T) {
	const (
		page  = 64
		total = 1 << 16
	)
	s := newStream[int32](t, 1024*4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var v int32
		for v < total {
			if s.Writable() < page {
				continue
			}
			batch := s.ReserveWrite(page)
			for i := range batch {
				batch[i] = v
				v++
			}
			s.CommitWrite(page)
		}
	}()

	var expected int32
	out := make([]int32, 100)
	for expected < total {
		n := s.Read(out)
		for _, v := range out[:n] {
			if v != expected {
				t.Fatalf("expected %d got %d", expected, v)
			}
			expected++
		}
	}
	wg.Wait()
}
