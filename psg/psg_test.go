package psg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/psg"
	"github.com/dudk/emustream/signal"
)

// run steps emulator for the duration in microseconds and returns frames.
func run(e *psg.Emulator, us int) []signal.Native {
	var frames []signal.Native
	e.SetSampleCallback(func(n signal.Native) {
		frames = append(frames, n)
	})
	for i := 0; i < us*psg.StepsPerMicrosecond; i++ {
		e.Step()
	}
	return frames
}

func peak(frames []signal.Native) int32 {
	var p int32
	for _, f := range frames {
		p = max(p, f.L, -f.L)
	}
	return p
}

func TestOutputFrequency(t *testing.T) {
	tests := []struct {
		oversampling bool
		expected     int
	}{
		{expected: psg.Frequency},
		{oversampling: true, expected: 2 * psg.Frequency},
	}
	for _, test := range tests {
		e := psg.New()
		require.NoError(t, e.Init(emustream.Options{Oversampling: test.oversampling}))
		assert.Equal(t, test.expected, e.OutputFrequency())
		frames := run(e, 100000)
		// a tenth of a second
		assert.InDelta(t, test.expected/10, len(frames), 2)
	}
}

func TestNotes(t *testing.T) {
	e := psg.New()
	require.NoError(t, e.Init(emustream.Options{}))
	assert.Zero(t, peak(run(e, 10000)))

	e.PostMIDI([]byte{0x90, 69, 127})
	frames := run(e, 10000)
	assert.NotZero(t, peak(frames))
	for _, f := range frames {
		require.Equal(t, f.L, f.R)
	}

	// note off for another note keeps playing
	e.PostMIDI([]byte{0x80, 70, 0})
	assert.NotZero(t, peak(run(e, 10000)))

	// zero velocity is note off
	e.PostMIDI([]byte{0x90, 69, 0})
	run(e, 1000)
	assert.Zero(t, peak(run(e, 10000)))

	// channel 3 shares voice with channel 0
	e.PostMIDI([]byte{0x93, 60, 100})
	assert.NotZero(t, peak(run(e, 10000)))
	e.PostMIDI([]byte{0xB0, 123, 0})
	run(e, 1000)
	assert.Zero(t, peak(run(e, 10000)))
}

func TestReset(t *testing.T) {
	tests := []func(e *psg.Emulator){
		func(e *psg.Emulator) { e.PostMIDI(emustream.ResetGS.Message()) },
		func(e *psg.Emulator) { e.PostMIDI(emustream.ResetGM.Message()) },
		func(e *psg.Emulator) { e.PostSystemReset(emustream.ResetGM) },
	}
	for _, reset := range tests {
		e := psg.New()
		require.NoError(t, e.Init(emustream.Options{}))
		e.PostMIDI([]byte{0x90, 60, 100})
		e.PostMIDI([]byte{0x91, 64, 100})
		e.PostMIDI([]byte{0x99, 38, 100})
		assert.NotZero(t, peak(run(e, 10000)))
		reset(e)
		run(e, 1000)
		assert.Zero(t, peak(run(e, 10000)))
	}
}

func TestMalformed(t *testing.T) {
	e := psg.New()
	require.NoError(t, e.Init(emustream.Options{}))
	e.PostMIDI(nil)
	e.PostMIDI([]byte{0x90})
	e.PostMIDI([]byte{0x90, 60})
	e.PostMIDI([]byte{0xF8})
	e.PostMIDI([]byte{0xF0, 0x43, 0xF7})
	assert.Zero(t, peak(run(e, 1000)))
}

func TestToneRegister(t *testing.T) {
	tests := []struct {
		note     int
		expected int
	}{
		{note: 69, expected: 254},
		{note: 81, expected: 127},
		{note: 0, expected: 1023},
		{note: 127, expected: 9},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, psg.ToneRegister(test.note))
	}
}

func TestAttenuation(t *testing.T) {
	assert.Equal(t, byte(0), psg.Attenuation(127))
	assert.Equal(t, byte(15), psg.Attenuation(1))
	assert.Equal(t, byte(8), psg.Attenuation(56))
}
