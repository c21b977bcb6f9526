package render_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/mock"
	"github.com/dudk/emustream/psg"
	"github.com/dudk/emustream/render"
	"github.com/dudk/emustream/signal"
	"github.com/dudk/emustream/smf"
	"github.com/dudk/emustream/test"
	"github.com/dudk/emustream/wav"
)

type event struct {
	ts    uint64
	msg   []byte
	tempo uint64
}

func (e event) Timestamp() uint64 { return e.ts }
func (e event) IsMeta() bool      { return e.msg == nil }
func (e event) IsTempo() bool     { return e.tempo > 0 }
func (e event) TempoUS() uint64   { return e.tempo }
func (e event) IsSystem() bool    { return e.msg == nil || e.msg[0] >= 0xF0 }
func (e event) Channel() int      { return int(e.msg[0] & 0x0F) }
func (e event) Bytes() []byte     { return e.msg }

// sequence runs at 1 tick per microsecond.
func sequence() []render.Event {
	return []render.Event{
		event{ts: 0, tempo: 96},
		event{ts: 0, msg: []byte{0x90, 60, 10}},
		event{ts: 0, msg: []byte{0x91, 61, 20}},
		event{ts: 4, msg: []byte{0x80, 60, 0}},
		event{ts: 6, msg: []byte{0x81, 61, 0}},
		event{ts: 8, msg: []byte{0x92, 62, 5}},
	}
}

type factory struct {
	sync.Mutex
	emulators []*mock.Emulator
	initErr   map[int]error
}

func (f *factory) new() emustream.Emulator {
	f.Lock()
	defer f.Unlock()
	e := &mock.Emulator{Period: 2, Scale: 1, InitErr: f.initErr[len(f.emulators)]}
	f.emulators = append(f.emulators, e)
	return e
}

func TestSplit(t *testing.T) {
	tracks := render.Split(sequence(), 2)
	require.Len(t, tracks, 2)

	var (
		channels [][]int
		deltas   [][]uint64
	)
	for _, track := range tracks {
		var cs []int
		var ds []uint64
		for _, e := range track {
			if e.IsSystem() {
				cs = append(cs, -1)
			} else {
				cs = append(cs, e.Channel())
			}
			ds = append(ds, e.Delta)
		}
		channels = append(channels, cs)
		deltas = append(deltas, ds)
	}
	assert.Equal(t, [][]int{{-1, 0, 0, 2}, {-1, 1, 1}}, channels)
	assert.Equal(t, [][]uint64{{0, 0, 4, 4}, {0, 0, 6}}, deltas)

	single := render.Split(sequence(), 1)
	assert.Len(t, single[0], 6)
}

func TestRender(t *testing.T) {
	expected := []signal.Frame[int32]{
		{L: 60, R: -60}, {L: 60, R: -60}, {L: 60, R: -60}, {L: 60, R: -60},
		{L: 40, R: -40}, {L: 40, R: -40},
		{}, {},
	}
	for _, instances := range []int{1, 2, 3, 16} {
		f := &factory{}
		r, err := render.New(f.new,
			render.WithInstances(instances),
			render.WithFormat(signal.S32),
			render.WithProgress(time.Millisecond, nil),
		)
		require.NoError(t, err)
		m, err := r.Render(context.Background(), sequence(), 96)
		require.NoError(t, err, "instances %d", instances)
		assert.Equal(t, signal.S32, m.Format)
		assert.Equal(t, 32000, m.SampleRate)
		assert.Equal(t, len(expected), m.Len())
		assert.Equal(t, expected, m.S32, "instances %d", instances)
		assert.Len(t, f.emulators, instances)
	}
}

func TestRenderDeterministic(t *testing.T) {
	var events []render.Event
	for i := 0; i < 200; i++ {
		ch := byte(i % 16)
		events = append(events,
			event{ts: uint64(i * 3), msg: []byte{0x90 | ch, byte(i % 128), byte(1 + i%127)}},
			event{ts: uint64(i*3 + 2), msg: []byte{0x80 | ch, byte(i % 128), 0}},
		)
	}
	renderOnce := func() *render.Mixdown {
		f := &factory{}
		r, err := render.New(f.new, render.WithInstances(7), render.WithFormat(signal.F32))
		require.NoError(t, err)
		m, err := r.Render(context.Background(), events, 24)
		require.NoError(t, err)
		return m
	}
	first := renderOnce()
	for i := 0; i < 3; i++ {
		assert.Equal(t, first.F32, renderOnce().F32)
	}
}

func TestRenderFileIdentical(t *testing.T) {
	f, err := smf.Load(test.WriteSMF(t, test.Sequence...))
	require.NoError(t, err)
	merged := f.Merge()
	events := make([]render.Event, len(merged.Events))
	for i := range merged.Events {
		events[i] = merged.Events[i]
	}

	renderFile := func(name string) []byte {
		r, err := render.New(
			func() emustream.Emulator { return psg.New() },
			render.WithInstances(2),
		)
		require.NoError(t, err)
		m, err := r.Render(context.Background(), events, f.Header.Division)
		require.NoError(t, err)
		path := test.Out(t, name)
		require.NoError(t, wav.NewSink(path).Write(m))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return data
	}
	first := renderFile("first.wav")
	second := renderFile("second.wav")
	assert.NotEmpty(t, first)
	assert.True(t, bytes.Equal(first, second), "rendered files differ")
}

func TestRenderInitFailure(t *testing.T) {
	initErr := errors.New("no roms")
	f := &factory{initErr: map[int]error{1: initErr}}
	r, err := render.New(f.new, render.WithInstances(3))
	require.NoError(t, err)
	_, err = r.Render(context.Background(), sequence(), 96)
	assert.ErrorIs(t, err, initErr)
	require.Len(t, f.emulators, 2, "creation stops at first failure")
	assert.Equal(t, 0, f.emulators[0].Steps(), "nothing is simulated")
}

func TestRenderReset(t *testing.T) {
	f := &factory{}
	r, err := render.New(f.new,
		render.WithInstances(2),
		render.WithFormat(signal.S32),
		render.WithReset(emustream.ResetGM, 10),
	)
	require.NoError(t, err)
	m, err := r.Render(context.Background(), sequence(), 96)
	require.NoError(t, err)
	assert.Equal(t, 8, m.Len(), "reset output is discarded")
	for _, e := range f.emulators {
		assert.Equal(t, []emustream.SystemReset{emustream.ResetGM}, e.Resets())
	}
	assert.Equal(t, 10+16, f.emulators[0].Steps())
}

func TestRenderProgress(t *testing.T) {
	var (
		mu   sync.Mutex
		last []render.Status
	)
	f := &factory{}
	r, err := render.New(f.new,
		render.WithInstances(2),
		render.WithProgress(time.Millisecond, func(s []render.Status) {
			mu.Lock()
			last = s
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	_, err = r.Render(context.Background(), sequence(), 96)
	require.NoError(t, err)
	assert.Equal(t, []render.Status{
		{Instance: 0, Processed: 4, Total: 4, Done: true},
		{Instance: 1, Processed: 3, Total: 3, Done: true},
	}, last)
}

func TestRenderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &factory{}
	r, err := render.New(f.new, render.WithInstances(2))
	require.NoError(t, err)
	_, err = r.Render(ctx, sequence(), 96)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptions(t *testing.T) {
	f := &factory{}
	_, err := render.New(f.new, render.WithInstances(0))
	assert.ErrorIs(t, err, render.ErrInstances)
	_, err = render.New(f.new, render.WithInstances(emustream.MaxInstances+1))
	assert.ErrorIs(t, err, render.ErrInstances)
	_, err = render.New(f.new, render.WithStepsPerMicrosecond(0))
	assert.Error(t, err)

	r, err := render.New(f.new)
	require.NoError(t, err)
	_, err = r.Render(context.Background(), sequence(), 0)
	assert.ErrorIs(t, err, render.ErrDivision)
}

func TestMix(t *testing.T) {
	out := render.Mix(
		[]signal.Frame[int16]{{L: math.MaxInt16, R: 1}},
		[]signal.Frame[int16]{{L: 1, R: 1}, {L: 2, R: -2}},
		nil,
	)
	assert.Equal(t, []signal.Frame[int16]{{L: math.MaxInt16, R: 2}, {L: 2, R: -2}}, out)
	assert.Empty(t, render.Mix[float32]())
}
