// Package config loads and validates configuration of the emustream
// command.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/instance"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/midi"
	"github.com/dudk/emustream/ring"
	"github.com/dudk/emustream/signal"
)

// Supported output backends.
const (
	BackendOto       = "oto"
	BackendMalgo     = "malgo"
	BackendPortaudio = "portaudio"
)

// Defaults.
const (
	DefaultInstances   = 1
	DefaultBackend     = BackendOto
	DefaultBufferSize  = 512
	DefaultBufferCount = 4
	DefaultFormat      = "s16"
)

var (
	// ErrInstances is returned when instance count is out of range.
	ErrInstances = fmt.Errorf("instances must be in range 1..%d", emustream.MaxInstances)
	// ErrBufferCount is returned when there are less than two buffers.
	ErrBufferCount = errors.New("buffer count must be at least 2")
	// ErrBufferSize is returned when buffer size is not positive.
	ErrBufferSize = errors.New("buffer size must be positive")
	// ErrBackend is returned for unknown backend.
	ErrBackend = errors.New("unknown backend")
)

type (
	// Config is the configuration of the emustream command.
	Config struct {
		Instances    int            `yaml:"instances"`
		Backend      string         `yaml:"backend"`
		Oversampling bool           `yaml:"oversampling"`
		Reset        string         `yaml:"reset"` // none, gs, gm
		Output       OutputConfig   `yaml:"output"`
		Producer     ProducerConfig `yaml:"producer"`
		MIDI         MIDIConfig     `yaml:"midi"`

		format signal.Format
		reset  emustream.SystemReset
	}

	// OutputConfig configures the output device.
	OutputConfig struct {
		Device      string `yaml:"device"`       // name or index
		BufferSize  int    `yaml:"buffer_size"`  // frames, power of two
		BufferCount int    `yaml:"buffer_count"` // at least 2
		Format      string `yaml:"format"`       // s16, s32, f32
		Frequency   int    `yaml:"frequency"`    // 0 follows the instances
	}

	// ProducerConfig configures instance producers.
	ProducerConfig struct {
		PageSize          int           `yaml:"page_size"`  // frames, defaults to buffer size
		PageCount         int           `yaml:"page_count"` // ring size in pages
		HighWaterPages    int           `yaml:"high_water_pages"`
		BackpressureSleep time.Duration `yaml:"backpressure_sleep"`
	}

	// MIDIConfig configures MIDI input.
	MIDIConfig struct {
		Input    string `yaml:"input"` // raw MIDI device or pipe, "-" is stdin
		MaxSysEx int    `yaml:"max_sysex"`
	}
)

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Instances: DefaultInstances,
		Backend:   DefaultBackend,
		Output: OutputConfig{
			BufferSize:  DefaultBufferSize,
			BufferCount: DefaultBufferCount,
			Format:      DefaultFormat,
		},
		MIDI: MIDIConfig{
			MaxSysEx: midi.DefaultMaxSysEx,
		},
	}
}

// Load reads YAML configuration on top of defaults. It's not validated,
// flags may override values first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration and fills derived values. Buffer size that
// is not a power of two is rounded to the nearer one with a warning.
func (c *Config) Validate(l log.Logger) error {
	var err error
	if c.Instances < 1 || c.Instances > emustream.MaxInstances {
		return fmt.Errorf("%w: %d", ErrInstances, c.Instances)
	}
	switch c.Backend {
	case BackendOto, BackendMalgo, BackendPortaudio:
	default:
		return fmt.Errorf("%w: %q", ErrBackend, c.Backend)
	}
	if c.format, err = signal.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	if c.reset, err = emustream.ParseSystemReset(c.Reset); err != nil {
		return err
	}
	if c.Output.BufferCount < 2 {
		return fmt.Errorf("%w: %d", ErrBufferCount, c.Output.BufferCount)
	}
	if c.Output.BufferSize < 1 {
		return fmt.Errorf("%w: %d", ErrBufferSize, c.Output.BufferSize)
	}
	if n := NearestPow2(c.Output.BufferSize); n != c.Output.BufferSize {
		l.Warnf("buffer size %d is not a power of two, using %d", c.Output.BufferSize, n)
		c.Output.BufferSize = n
	}
	if c.Producer.PageSize == 0 {
		c.Producer.PageSize = c.Output.BufferSize
	}
	if c.MIDI.MaxSysEx <= 0 {
		c.MIDI.MaxSysEx = midi.DefaultMaxSysEx
	}
	return nil
}

// Format returns parsed output format.
func (c *Config) Format() signal.Format {
	return c.format
}

// SystemReset returns parsed reset mode.
func (c *Config) SystemReset() emustream.SystemReset {
	return c.reset
}

// InstanceConfig returns producer configuration of instances.
func (c *Config) InstanceConfig() instance.Config {
	return instance.Config{
		Format:            c.format,
		PageSize:          c.Producer.PageSize,
		PageCount:         c.Producer.PageCount,
		HighWaterPages:    c.Producer.HighWaterPages,
		BackpressureSleep: c.Producer.BackpressureSleep,
		Oversampling:      c.Oversampling,
	}
}

// NearestPow2 rounds n to the nearer power of two, ties go up.
func NearestPow2(n int) int {
	if n <= 1 {
		return 1
	}
	upper := ring.CeilPow2(n)
	lower := upper / 2
	if n-lower < upper-n {
		return lower
	}
	return upper
}
