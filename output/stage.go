package output

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	resampler "github.com/tphakala/go-audio-resampler"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/ring"
	"github.com/dudk/emustream/signal"
)

// DefaultStageSleep is the sleep duration of a stage that has nothing to do.
const DefaultStageSleep = 500 * time.Microsecond

// engine is a single channel streaming resampler.
type engine interface {
	Process([]float32) ([]float32, error)
}

// Stage drains a source on its own goroutine, converts frames to float,
// resamples them to the device rate and publishes them into a private ring.
// A stage is itself a F32 source.
type Stage struct {
	emustream.UID
	src   Source
	rate  int
	page  int
	sleep time.Duration
	log   log.Logger

	arena ring.Buffer
	view  *ring.View
	out   *ring.Stream[signal.Frame[float32]]
	// pull reads and converts up to len(dst) source frames.
	pull func(dst []signal.Frame[float32]) int
	l, r engine
	// maxOut is the upper bound of frames published per page.
	maxOut  int
	scratch []signal.Frame[float32]

	running atomic.Bool
	done    chan struct{}
}

// NewStage creates a stage that publishes src at the device rate. The
// private ring holds at least bufferCount buffers of bufferSize frames.
func NewStage(src Source, rate, bufferSize, bufferCount int, l log.Logger) (*Stage, error) {
	s := &Stage{
		UID:   emustream.NewUID(),
		src:   src,
		rate:  rate,
		page:  src.PageSize(),
		sleep: DefaultStageSleep,
		log:   l,
	}
	var err error
	switch src.Format() {
	case signal.S16:
		s.pull, err = puller[int16](src)
	case signal.S32:
		s.pull, err = puller[int32](src)
	case signal.F32:
		s.pull, err = puller[float32](src)
	default:
		err = fmt.Errorf("%w: %v", signal.ErrUnknownFormat, src.Format())
	}
	if err != nil {
		return nil, err
	}
	s.maxOut = s.page
	if in := src.Frequency(); in != rate {
		if s.l, err = resampler.NewEngineFloat32(float64(in), float64(rate), resampler.QualityMedium); err != nil {
			return nil, fmt.Errorf("resampler %d to %d: %w", in, rate, err)
		}
		if s.r, err = resampler.NewEngineFloat32(float64(in), float64(rate), resampler.QualityMedium); err != nil {
			return nil, fmt.Errorf("resampler %d to %d: %w", in, rate, err)
		}
		// filter delay may release a little more than the ratio
		s.maxOut = 2 * (s.page*rate/in + 1)
	}

	size := ring.CeilPow2(1 + (bufferSize*bufferCount+2*s.maxOut)*signal.F32.FrameSize())
	if !s.arena.Init(size) {
		return nil, ring.ErrAlloc
	}
	if s.view, err = ring.NewView(&s.arena); err != nil {
		return nil, err
	}
	if s.out, err = ring.Overlay[signal.Frame[float32]](s.view); err != nil {
		return nil, err
	}
	return s, nil
}

func puller[T signal.Sample](src Source) (func([]signal.Frame[float32]) int, error) {
	in, err := ring.Overlay[signal.Frame[T]](src.View())
	if err != nil {
		return nil, err
	}
	return func(dst []signal.Frame[float32]) int {
		n := min(len(dst), in.Readable())
		if n == 0 {
			return 0
		}
		head, tail := in.Segments(n)
		for i, f := range head {
			dst[i] = signal.Frame[float32]{L: signal.Float32(f.L), R: signal.Float32(f.R)}
		}
		for i, f := range tail {
			dst[len(head)+i] = signal.Frame[float32]{L: signal.Float32(f.L), R: signal.Float32(f.R)}
		}
		in.CommitRead(n)
		return n
	}, nil
}

// View implements Source.
func (s *Stage) View() *ring.View {
	return s.view
}

// Format implements Source.
func (s *Stage) Format() signal.Format {
	return signal.F32
}

// PageSize implements Source.
func (s *Stage) PageSize() int {
	return s.maxOut
}

// Frequency implements Source.
func (s *Stage) Frequency() int {
	return s.rate
}

// Start runs the stage goroutine.
func (s *Stage) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("stage %v start: %w", s.UID, emustream.ErrInvalidState)
	}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		s.run()
	}()
	return nil
}

// Running reports if stage goroutine is running.
func (s *Stage) Running() bool {
	return s.running.Load()
}

// Stop waits for the stage goroutine to exit.
func (s *Stage) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return fmt.Errorf("stage %v stop: %w", s.UID, emustream.ErrInvalidState)
	}
	<-s.done
	return nil
}

// Close releases private ring. Stage must be stopped.
func (s *Stage) Close() error {
	if s.running.Load() {
		return fmt.Errorf("stage %v close: %w", s.UID, emustream.ErrInvalidState)
	}
	s.arena.Free()
	return nil
}

func (s *Stage) run() {
	var (
		in   = make([]signal.Frame[float32], s.page)
		l, r []float32
	)
	if s.l != nil {
		l = make([]float32, s.page)
		r = make([]float32, s.page)
	}
	for s.running.Load() {
		if s.out.Writable() < s.maxOut {
			time.Sleep(s.sleep)
			continue
		}
		n := s.pull(in)
		if n == 0 {
			time.Sleep(s.sleep)
			continue
		}
		if s.l == nil {
			s.out.Write(in[:n])
			continue
		}
		for i, f := range in[:n] {
			l[i], r[i] = f.L, f.R
		}
		lo, err := s.l.Process(l[:n])
		if err != nil {
			s.log.WithField("stage", s.UID).Warn(err)
			continue
		}
		ro, err := s.r.Process(r[:n])
		if err != nil {
			s.log.WithField("stage", s.UID).Warn(err)
			continue
		}
		s.publish(lo, ro)
	}
}

// publish interleaves resampled channels into the private ring. Frames
// beyond the free space are dropped.
func (s *Stage) publish(l, r []float32) {
	n := min(len(l), len(r))
	if cap(s.scratch) < n {
		s.scratch = make([]signal.Frame[float32], n)
	}
	frames := s.scratch[:n]
	for i := range frames {
		frames[i] = signal.Frame[float32]{L: l[i], R: r[i]}
	}
	s.out.Write(frames)
}
