package oto

import (
	"testing"

	"github.com/ebitengine/oto/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/emustream/metric"
	"github.com/dudk/emustream/output"
	"github.com/dudk/emustream/ring"
	"github.com/dudk/emustream/signal"
)

type source struct {
	view *ring.View
}

func (s source) View() *ring.View      { return s.view }
func (s source) Format() signal.Format { return signal.S16 }
func (s source) PageSize() int         { return 4 }
func (s source) Frequency() int        { return 32000 }

func TestReader(t *testing.T) {
	var arena ring.Buffer
	require.True(t, arena.Init(256))
	view, err := ring.NewView(&arena)
	require.NoError(t, err)
	stream, err := ring.Overlay[signal.Frame[int16]](view)
	require.NoError(t, err)

	core, err := output.NewCore(signal.S16, t.Name())
	require.NoError(t, err)
	require.NoError(t, core.Add(source{view: view}))

	frames := make([]signal.Frame[int16], 12)
	for i := range frames {
		frames[i] = signal.Frame[int16]{L: int16(i), R: int16(i)}
	}
	require.Equal(t, 12, stream.Write(frames))

	r := newReader(core, 4, metric.Meter(t.Name(), 32000))
	// reads are not aligned to pages
	var got []byte
	for _, size := range []int{6, 10, 16, 16} {
		p := make([]byte, size)
		n, err := r.Read(p)
		require.NoError(t, err)
		require.Equal(t, size, n)
		got = append(got, p...)
	}
	assert.Equal(t, frames, signal.FramesOf[int16](got[:48]))
	// no data left, silence
	assert.Equal(t, 0, stream.Readable())

	n, err := r.Read(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

func TestFormat(t *testing.T) {
	_, err := format(signal.S32)
	assert.ErrorIs(t, err, output.ErrUnsupportedFormat)
	f, err := format(signal.F32)
	require.NoError(t, err)
	assert.Equal(t, oto.FormatFloat32LE, f)
}
