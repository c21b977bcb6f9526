package signal_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/emustream/signal"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in       string
		expected signal.Format
		err      bool
	}{
		{in: "s16", expected: signal.S16},
		{in: "S32", expected: signal.S32},
		{in: "f32", expected: signal.F32},
		{in: "u8", err: true},
		{in: "", err: true},
	}
	for _, test := range tests {
		f, err := signal.ParseFormat(test.in)
		if test.err {
			assert.ErrorIs(t, err, signal.ErrUnknownFormat, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		assert.Equal(t, test.expected, f)
		assert.Equal(t, strings.ToLower(test.in), f.String())
	}
}

func TestFormatSizes(t *testing.T) {
	assert.Equal(t, 4, signal.S16.FrameSize())
	assert.Equal(t, 8, signal.S32.FrameSize())
	assert.Equal(t, 8, signal.F32.FrameSize())
	assert.Equal(t, signal.BitDepth16, signal.S16.BitDepth())
	assert.Equal(t, signal.BitDepth32, signal.F32.BitDepth())
	assert.True(t, signal.F32.IsFloat())
	assert.False(t, signal.S32.IsFloat())
}

func TestConvert(t *testing.T) {
	tests := []struct {
		description string
		in          int32
		s16         int16
		s32         int32
		f32         float32
	}{
		{
			description: "zero",
		},
		{
			description: "full scale",
			in:          1 << 29,
			s16:         1 << 14,
			s32:         1 << 30,
			f32:         1,
		},
		{
			description: "negative full scale",
			in:          -(1 << 29),
			s16:         -(1 << 14),
			s32:         -(1 << 30),
			f32:         -1,
		},
		{
			description: "clipped",
			in:          math.MaxInt32,
			s16:         math.MaxInt16,
			s32:         math.MaxInt32,
			f32:         4,
		},
		{
			description: "negative clipped",
			in:          math.MinInt32,
			s16:         math.MinInt16,
			s32:         math.MinInt32,
			f32:         -4,
		},
	}
	s16 := signal.Converter[int16]()
	s32 := signal.Converter[int32]()
	f32 := signal.Converter[float32]()
	for _, test := range tests {
		n := signal.Native{L: test.in, R: -test.in}
		assert.Equal(t, test.s16, s16(n).L, test.description)
		assert.Equal(t, test.s32, s32(n).L, test.description)
		assert.InDelta(t, test.f32, f32(n).L, 1e-6, test.description)
	}
}

func TestMix(t *testing.T) {
	t.Run("saturating 16 bit", func(t *testing.T) {
		dst := []signal.Frame[int16]{{L: 30000, R: -30000}, {L: 1, R: 2}}
		signal.MixFunc[int16]()(dst, []signal.Frame[int16]{{L: 30000, R: -30000}, {L: 1, R: 2}})
		assert.Equal(t, []signal.Frame[int16]{{L: math.MaxInt16, R: math.MinInt16}, {L: 2, R: 4}}, dst)
	})
	t.Run("saturating 32 bit", func(t *testing.T) {
		dst := []signal.Frame[int32]{{L: math.MaxInt32 - 1, R: math.MinInt32 + 1}}
		signal.MixFunc[int32]()(dst, []signal.Frame[int32]{{L: 10, R: -10}})
		assert.Equal(t, []signal.Frame[int32]{{L: math.MaxInt32, R: math.MinInt32}}, dst)
	})
	t.Run("float is not clipped", func(t *testing.T) {
		dst := []signal.Frame[float32]{{L: 0.75, R: -0.75}}
		signal.MixFunc[float32]()(dst, []signal.Frame[float32]{{L: 0.75, R: -0.75}})
		assert.Equal(t, []signal.Frame[float32]{{L: 1.5, R: -1.5}}, dst)
	})
	t.Run("shorter source", func(t *testing.T) {
		dst := make([]signal.Frame[int16], 3)
		signal.MixFunc[int16]()(dst, []signal.Frame[int16]{{L: 1, R: 1}})
		assert.Equal(t, []signal.Frame[int16]{{L: 1, R: 1}, {}, {}}, dst)
	})
}

func TestFloat32(t *testing.T) {
	assert.Equal(t, float32(-1), signal.Float32(int16(math.MinInt16)))
	assert.Equal(t, float32(-1), signal.Float32(int32(math.MinInt32)))
	assert.Equal(t, float32(0.5), signal.Float32(float32(0.5)))
}

func TestInt16(t *testing.T) {
	assert.Equal(t, int16(-5), signal.Int16(int16(-5)))
	assert.Equal(t, int16(math.MaxInt16), signal.Int16(int32(math.MaxInt32)))
	assert.Equal(t, int16(math.MaxInt16), signal.Int16(float32(1.5)))
	assert.Equal(t, int16(-math.MaxInt16), signal.Int16(float32(-1)))
}

func TestFramesOf(t *testing.T) {
	b := []byte{0x01, 0x00, 0xFF, 0xFF, 0x02, 0x01, 0x00, 0x00}
	frames := signal.FramesOf[int16](b)
	assert.Equal(t, []signal.Frame[int16]{{L: 1, R: -1}, {L: 0x0102, R: 0}}, frames)
	// frames share memory with bytes
	frames[0].L = 3
	assert.Equal(t, byte(3), b[0])
	assert.Nil(t, signal.FramesOf[int32](b[:7]))
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, time.Second, signal.DurationOf(44100, 44100))
	assert.Equal(t, 500*time.Millisecond, signal.DurationOf(48000, 24000))
}
