// Package malgo plays sources through a miniaudio playback device. The
// device data callback mixes sources directly into the device buffer.
package malgo

import (
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/metric"
	"github.com/dudk/emustream/output"
	"github.com/dudk/emustream/signal"
)

// Backend is a miniaudio output. A device stop that wasn't requested by
// Stop raises a reset request.
type Backend struct {
	emustream.UID
	output.ResetFlag
	params   output.Params
	core     output.Core
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	stopping atomic.Bool
	log      log.Logger
}

// New returns new miniaudio backend.
func New(l log.Logger) *Backend {
	return &Backend{
		UID: emustream.NewUID(),
		log: l,
	}
}

func format(f signal.Format) (malgo.FormatType, error) {
	switch f {
	case signal.S16:
		return malgo.FormatS16, nil
	case signal.S32:
		return malgo.FormatS32, nil
	case signal.F32:
		return malgo.FormatF32, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("malgo: %w: %v", output.ErrUnsupportedFormat, f)
}

func (b *Backend) logf(msg string) {
	b.log.WithField("output", b.UID).Debug(msg)
}

// Create initializes miniaudio context and playback device.
func (b *Backend) Create(p output.Params) error {
	f, err := format(p.Format)
	if err != nil {
		return err
	}
	if b.core == nil {
		if b.core, err = output.NewCore(p.Format, b); err != nil {
			return err
		}
	}
	if b.ctx, err = malgo.InitContext(nil, malgo.ContextConfig{}, b.logf); err != nil {
		return fmt.Errorf("malgo context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = f
	cfg.Playback.Channels = signal.NumChannels
	cfg.SampleRate = uint32(p.Frequency)
	cfg.PeriodSizeInFrames = uint32(p.BufferSize)
	cfg.Periods = uint32(p.BufferCount)
	if p.Device != "" {
		infos, err := b.ctx.Devices(malgo.Playback)
		if err != nil {
			b.uninit()
			return fmt.Errorf("malgo devices: %w", err)
		}
		if i := output.Pick(deviceInfos(infos), p.Device); i >= 0 {
			cfg.Playback.DeviceID = infos[i].ID.Pointer()
		} else {
			b.log.Warnf("device %q not found, using default", p.Device)
		}
	}

	var (
		frameSize = p.Format.FrameSize()
		meter     = metric.Meter(b, p.Frequency)
		measure   metric.MeasureFunc
	)
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frames uint32) {
			if measure == nil {
				measure = meter()
			}
			b.core.MixBytes(out[:int(frames)*frameSize])
			measure(int64(frames))
		},
		Stop: func() {
			if !b.stopping.Load() {
				b.RequestReset()
			}
		},
	}
	if b.device, err = malgo.InitDevice(b.ctx.Context, cfg, callbacks); err != nil {
		b.uninit()
		return fmt.Errorf("malgo device: %w", err)
	}
	b.params = p
	b.log.WithField("output", b.UID).Debugf("malgo device created: %d Hz, %v, %d x %d frames",
		p.Frequency, p.Format, p.BufferCount, p.BufferSize)
	return nil
}

// AddSource adds source to the mix.
func (b *Backend) AddSource(s output.Source) error {
	if b.core == nil {
		return output.ErrNotCreated
	}
	return b.core.Add(s)
}

// Start starts the device.
func (b *Backend) Start() error {
	if b.device == nil {
		return output.ErrNotCreated
	}
	return b.device.Start()
}

// Stop stops the device and waits for the data callback to return.
func (b *Backend) Stop() error {
	if b.device == nil {
		return output.ErrNotCreated
	}
	b.stopping.Store(true)
	defer b.stopping.Store(false)
	return b.device.Stop()
}

// Destroy releases the device and the context.
func (b *Backend) Destroy() error {
	if b.device == nil {
		return output.ErrNotCreated
	}
	b.device.Uninit()
	b.device = nil
	return b.uninit()
}

func (b *Backend) uninit() error {
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

// Reset recreates the device with the same params.
func (b *Backend) Reset() error {
	b.log.WithField("output", b.UID).Info("malgo reset")
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

// Devices lists playback devices.
func Devices() ([]output.DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()
	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, err
	}
	return deviceInfos(infos), nil
}

func deviceInfos(infos []malgo.DeviceInfo) []output.DeviceInfo {
	devices := make([]output.DeviceInfo, len(infos))
	for i := range infos {
		devices[i] = output.DeviceInfo{Index: i, Name: infos[i].Name()}
	}
	return devices
}
