//go:build portaudio

package portaudio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/emustream/instance"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/mock"
	"github.com/dudk/emustream/output"
	"github.com/dudk/emustream/output/portaudio"
	"github.com/dudk/emustream/signal"
)

func TestPlay(t *testing.T) {
	i, err := instance.New(&mock.Emulator{Scale: 1 << 12}, instance.Config{Format: signal.S16})
	require.NoError(t, err)
	defer i.Close()
	i.PostMIDI([]byte{0x90, 60, 100})

	b := portaudio.New(log.GetLogger())
	require.NoError(t, b.Create(output.Params{BufferSize: 512, BufferCount: 4}))
	require.NoError(t, b.AddSource(i))
	require.NoError(t, i.Start())
	require.NoError(t, b.Start())
	time.Sleep(200 * time.Millisecond)

	b.RequestReset()
	assert.True(t, b.ResetRequested())
	require.NoError(t, b.Reset())
	assert.False(t, b.ResetRequested())
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, b.Stop())
	require.NoError(t, i.Stop())
	require.NoError(t, b.Destroy())
}
