package mp3_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/emustream/mp3"
	"github.com/dudk/emustream/render"
	"github.com/dudk/emustream/signal"
	"github.com/dudk/emustream/test"
)

func TestSink(t *testing.T) {
	frames := make([]signal.Frame[float32], 32000)
	for i := range frames {
		v := float32(i%64)/64 - 0.5
		frames[i] = signal.Frame[float32]{L: v, R: -v}
	}
	path := test.Out(t, "out.mp3")
	sink := mp3.NewSink(path, mp3.DefaultBitRate, mp3.DefaultQuality)
	err := sink.Write(&render.Mixdown{Format: signal.F32, SampleRate: 32000, F32: frames})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
