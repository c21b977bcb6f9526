package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/config"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/signal"
	"github.com/dudk/emustream/test"
)

func TestLoad(t *testing.T) {
	path := test.Out(t, "emustream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instances: 4
backend: malgo
reset: gs
output:
  device: "USB Audio"
  buffer_size: 600
  format: f32
producer:
  page_count: 8
  backpressure_sleep: 2ms
midi:
  input: /dev/snd/midiC1D0
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(log.Silent()))

	assert.Equal(t, 4, cfg.Instances)
	assert.Equal(t, config.BackendMalgo, cfg.Backend)
	assert.Equal(t, "USB Audio", cfg.Output.Device)
	assert.Equal(t, 512, cfg.Output.BufferSize)
	// defaults are kept
	assert.Equal(t, config.DefaultBufferCount, cfg.Output.BufferCount)
	assert.Equal(t, signal.F32, cfg.Format())
	assert.Equal(t, emustream.ResetGS, cfg.SystemReset())
	assert.Equal(t, "/dev/snd/midiC1D0", cfg.MIDI.Input)

	ic := cfg.InstanceConfig()
	assert.Equal(t, signal.F32, ic.Format)
	assert.Equal(t, 512, ic.PageSize)
	assert.Equal(t, 8, ic.PageCount)
	assert.Equal(t, 2*time.Millisecond, ic.BackpressureSleep)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(test.Out(t, "missing.yaml"))
	assert.Error(t, err)

	path := test.Out(t, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instances: [1"), 0o644))
	_, err = config.Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		modify   func(*config.Config)
		expected error
	}{
		{modify: func(c *config.Config) { c.Instances = 0 }, expected: config.ErrInstances},
		{modify: func(c *config.Config) { c.Instances = 17 }, expected: config.ErrInstances},
		{modify: func(c *config.Config) { c.Backend = "sdl" }, expected: config.ErrBackend},
		{modify: func(c *config.Config) { c.Output.Format = "u8" }, expected: signal.ErrUnknownFormat},
		{modify: func(c *config.Config) { c.Reset = "xg" }, expected: emustream.ErrUnknownReset},
		{modify: func(c *config.Config) { c.Output.BufferCount = 1 }, expected: config.ErrBufferCount},
		{modify: func(c *config.Config) { c.Output.BufferSize = 0 }, expected: config.ErrBufferSize},
	}
	for _, test := range tests {
		cfg := config.Default()
		test.modify(cfg)
		assert.ErrorIs(t, cfg.Validate(log.Silent()), test.expected)
	}

	cfg := config.Default()
	cfg.Instances = emustream.MaxInstances
	require.NoError(t, cfg.Validate(log.Silent()))
	assert.Equal(t, signal.S16, cfg.Format())
}

func TestNearestPow2(t *testing.T) {
	tests := []struct {
		in, expected int
	}{
		{in: 0, expected: 1},
		{in: 1, expected: 1},
		{in: 3, expected: 4},
		{in: 5, expected: 4},
		{in: 512, expected: 512},
		{in: 600, expected: 512},
		{in: 768, expected: 1024},
		{in: 1000, expected: 1024},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, config.NearestPow2(test.in), test.in)
	}
}
