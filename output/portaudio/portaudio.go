// Package portaudio plays sources through a portaudio stream with
// non-interleaved float output. Every source is attached through an
// output.Stage that resamples it to the device rate.
package portaudio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/metric"
	"github.com/dudk/emustream/output"
	"github.com/dudk/emustream/signal"
)

// Backend is a portaudio output. It always plays F32, sources of any
// format are converted by their stages.
type Backend struct {
	emustream.UID
	output.ResetFlag
	params output.Params
	stream *portaudio.Stream
	stages []*output.Stage
	mixer  *output.Mixer[float32]
	// mix is the interleaved buffer of the callback.
	mix []signal.Frame[float32]
	log log.Logger
}

// New returns new portaudio backend.
func New(l log.Logger) *Backend {
	b := &Backend{
		UID: emustream.NewUID(),
		log: l,
	}
	b.mixer = output.NewMixer[float32](signal.F32, b)
	return b
}

// Create initializes portaudio and opens the stream. Zero frequency
// selects the device default rate.
func (b *Backend) Create(p output.Params) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio initialize: %w", err)
	}
	device, err := pick(p.Device, b.log)
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}
	if p.Frequency == 0 {
		p.Frequency = int(device.DefaultSampleRate)
	}
	p.Format = signal.F32

	sp := portaudio.HighLatencyParameters(nil, device)
	sp.Output.Channels = signal.NumChannels
	sp.SampleRate = float64(p.Frequency)
	sp.FramesPerBuffer = p.BufferSize
	b.mix = make([]signal.Frame[float32], p.BufferSize)

	meter := metric.Meter(b, p.Frequency)
	var measure metric.MeasureFunc
	b.stream, err = portaudio.OpenStream(sp, func(out [][]float32) {
		if measure == nil {
			measure = meter()
		}
		b.process(out)
		measure(int64(len(out[0])))
	})
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio open %q: %w", device.Name, err)
	}
	b.params = p
	b.log.WithField("output", b.UID).Debugf("portaudio stream opened on %q: %d Hz, %d frames",
		device.Name, p.Frequency, p.BufferSize)
	return nil
}

// process mixes stages and deinterleaves the mix into channel buffers. If
// any stage is short the whole period is silent.
func (b *Backend) process(out [][]float32) {
	n := len(out[0])
	if n > len(b.mix) {
		// driver asked for more than negotiated
		n = len(b.mix)
	}
	mix := b.mix[:n]
	b.mixer.MixStrict(mix)
	for i, f := range mix {
		out[0][i] = f.L
		out[1][i] = f.R
	}
	for c := range out {
		clear(out[c][n:])
	}
}

func pick(query string, l log.Logger) (*portaudio.DeviceInfo, error) {
	if query != "" {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("portaudio devices: %w", err)
		}
		if i := output.Pick(deviceInfos(devices), query); i >= 0 {
			return devices[i], nil
		}
		l.Warnf("device %q not found, using default", query)
	}
	device, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio default device: %w", err)
	}
	return device, nil
}

// AddSource wraps source into a stage. It must be called after Create.
func (b *Backend) AddSource(s output.Source) error {
	if b.stream == nil {
		return output.ErrNotCreated
	}
	if len(b.stages) >= output.MaxSources {
		return output.ErrTooManySources
	}
	stage, err := output.NewStage(s, b.params.Frequency, b.params.BufferSize, b.params.BufferCount, b.log)
	if err != nil {
		return err
	}
	if err := b.mixer.Add(stage); err != nil {
		_ = stage.Close()
		return err
	}
	b.stages = append(b.stages, stage)
	return nil
}

// Start starts stages and the stream.
func (b *Backend) Start() error {
	if b.stream == nil {
		return output.ErrNotCreated
	}
	for _, s := range b.stages {
		if !s.Running() {
			if err := s.Start(); err != nil {
				return err
			}
		}
	}
	return b.stream.Start()
}

// Stop stops the stream and then stages. Stages are stopped even if the
// stream was lost in a failed reset.
func (b *Backend) Stop() error {
	if b.stream == nil && len(b.stages) == 0 {
		return output.ErrNotCreated
	}
	var errs emustream.Errors
	if b.stream != nil {
		errs.Add(b.stream.Stop())
	}
	for _, s := range b.stages {
		if s.Running() {
			errs.Add(s.Stop())
		}
	}
	return errs.Ret()
}

// Destroy closes the stream, releases stages and terminates portaudio.
// Sources have to be added again after the next Create.
func (b *Backend) Destroy() error {
	if b.stream == nil && len(b.stages) == 0 {
		return output.ErrNotCreated
	}
	var errs emustream.Errors
	if b.stream != nil {
		errs.Add(b.closeStream())
	}
	for _, s := range b.stages {
		if s.Running() {
			errs.Add(s.Stop())
		}
		errs.Add(s.Close())
	}
	b.stages = nil
	b.mixer = output.NewMixer[float32](signal.F32, b)
	return errs.Ret()
}

func (b *Backend) closeStream() error {
	var errs emustream.Errors
	errs.Add(b.stream.Close())
	errs.Add(portaudio.Terminate())
	b.stream = nil
	return errs.Ret()
}

// Reset closes and reopens the stream with the same params. Stages keep
// draining instances meanwhile. Unlike output.Restart it keeps the sources.
func (b *Backend) Reset() error {
	b.log.WithField("output", b.UID).Info("portaudio reset")
	b.ClearReset()
	if b.stream == nil {
		return output.ErrNotCreated
	}
	var errs emustream.Errors
	errs.Add(b.stream.Stop())
	errs.Add(b.closeStream())
	if err := errs.Ret(); err != nil {
		return err
	}
	if err := b.Create(b.params); err != nil {
		return err
	}
	return b.stream.Start()
}

// Frequency returns device sample rate.
func (b *Backend) Frequency() int {
	return b.params.Frequency
}

// Format returns F32.
func (b *Backend) Format() signal.Format {
	return signal.F32
}

// BufferSize returns device buffer size in frames.
func (b *Backend) BufferSize() int {
	return b.params.BufferSize
}

// Devices lists output devices.
func Devices() ([]output.DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer portaudio.Terminate()
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var infos []output.DeviceInfo
	for _, d := range deviceInfos(devices) {
		if devices[d.Index].MaxOutputChannels >= signal.NumChannels {
			infos = append(infos, d)
		}
	}
	return infos, nil
}

func deviceInfos(devices []*portaudio.DeviceInfo) []output.DeviceInfo {
	infos := make([]output.DeviceInfo, len(devices))
	for i, d := range devices {
		infos[i] = output.DeviceInfo{Index: i, Name: d.Name}
	}
	return infos
}
