// Package oto plays sources through an oto pull player. The player reads
// whole mixes of the device buffer size from the mixing core.
package oto

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/metric"
	"github.com/dudk/emustream/output"
	"github.com/dudk/emustream/signal"
)

// oto allows a single context per process.
var (
	otoCtx      *oto.Context
	contextOnce sync.Once
	contextErr  error
	contextOpts oto.NewContextOptions
)

func ensureContext(opts oto.NewContextOptions) (*oto.Context, error) {
	contextOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, contextErr = oto.NewContext(&opts)
		if contextErr != nil {
			return
		}
		<-ready
		contextOpts = opts
	})
	if contextErr != nil {
		return nil, contextErr
	}
	if contextOpts.SampleRate != opts.SampleRate || contextOpts.Format != opts.Format {
		return nil, fmt.Errorf("oto context is already created for %d Hz format %d", contextOpts.SampleRate, contextOpts.Format)
	}
	return otoCtx, nil
}

// Backend is an oto output.
type Backend struct {
	emustream.UID
	output.ResetFlag
	params output.Params
	core   output.Core
	player *oto.Player
	log    log.Logger
}

// New returns new oto backend.
func New(l log.Logger) *Backend {
	return &Backend{
		UID: emustream.NewUID(),
		log: l,
	}
}

func format(f signal.Format) (oto.Format, error) {
	switch f {
	case signal.S16:
		return oto.FormatSignedInt16LE, nil
	case signal.F32:
		return oto.FormatFloat32LE, nil
	}
	return 0, fmt.Errorf("oto: %w: %v", output.ErrUnsupportedFormat, f)
}

// Create creates oto context and a player. Only S16 and F32 are supported.
func (b *Backend) Create(p output.Params) error {
	f, err := format(p.Format)
	if err != nil {
		return err
	}
	if p.Device != "" {
		b.log.Warnf("oto plays to default device, %q is ignored", p.Device)
	}
	ctx, err := ensureContext(oto.NewContextOptions{
		SampleRate:   p.Frequency,
		ChannelCount: signal.NumChannels,
		Format:       f,
		BufferSize:   signal.DurationOf(p.Frequency, int64(p.BufferSize)),
	})
	if err != nil {
		return err
	}
	if b.core == nil {
		if b.core, err = output.NewCore(p.Format, b); err != nil {
			return err
		}
	}
	b.params = p
	b.player = ctx.NewPlayer(newReader(b.core, p.BufferSize, metric.Meter(b, p.Frequency)))
	b.player.SetBufferSize(p.BufferSize * p.BufferCount * p.Format.FrameSize())
	b.log.WithField("output", b.UID).Debugf("oto player created: %d Hz, %v, buffer %v",
		p.Frequency, p.Format, signal.DurationOf(p.Frequency, int64(p.BufferSize*p.BufferCount)).Round(time.Millisecond))
	return nil
}

// AddSource adds source to the mix.
func (b *Backend) AddSource(s output.Source) error {
	if b.core == nil {
		return output.ErrNotCreated
	}
	return b.core.Add(s)
}

// Start starts playback.
func (b *Backend) Start() error {
	if b.player == nil {
		return output.ErrNotCreated
	}
	b.player.Play()
	return nil
}

// Stop pauses playback.
func (b *Backend) Stop() error {
	if b.player == nil {
		return output.ErrNotCreated
	}
	b.player.Pause()
	return nil
}

// Destroy closes the player. The context lives until the process exits.
func (b *Backend) Destroy() error {
	if b.player == nil {
		return output.ErrNotCreated
	}
	err := b.player.Close()
	b.player = nil
	return err
}

// Reset recreates the player with the same params.
func (b *Backend) Reset() error {
	b.log.WithField("output", b.UID).Info("oto reset")
	return output.Restart(b, &b.ResetFlag, b.params)
}

// Frequency returns device sample rate.
func (b *Backend) Frequency() int {
	return b.params.Frequency
}

// Format returns device format.
func (b *Backend) Format() signal.Format {
	return b.params.Format
}

// BufferSize returns device buffer size in frames.
func (b *Backend) BufferSize() int {
	return b.params.BufferSize
}

// Devices returns the only device oto plays to.
func Devices() []output.DeviceInfo {
	return []output.DeviceInfo{{Index: 0, Name: "default"}}
}
