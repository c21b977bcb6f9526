// Package render renders a MIDI sequence offline with several emulator
// instances in parallel. The result doesn't depend on scheduling: every
// instance simulates its own sub-sequence on a private clock and buffers
// are mixed in a fixed order.
package render

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/signal"
)

const (
	// DefaultTempo is the tempo until the first tempo event, in
	// microseconds per quarter note.
	DefaultTempo = 500000
	// DefaultStepsPerMicrosecond is the number of emulator steps per
	// simulated microsecond.
	DefaultStepsPerMicrosecond = 2
	// DefaultProgressInterval is the interval between progress reports.
	DefaultProgressInterval = time.Second
	// DefaultResetSteps is the number of steps run after a system reset.
	DefaultResetSteps = 24000000
)

var (
	// ErrInstances is returned when number of instances is out of range.
	ErrInstances = fmt.Errorf("number of instances must be between 1 and %d", emustream.MaxInstances)
	// ErrDivision is returned when time division is zero.
	ErrDivision = errors.New("time division must be positive")
)

type (
	// Factory returns a new uninitialized emulator.
	Factory func() emustream.Emulator

	// Renderer renders sequences. It can be reused for consequent renders.
	Renderer struct {
		newEmulator  Factory
		instances    int
		format       signal.Format
		oversampling bool
		stepsPerUS   int
		reset        emustream.SystemReset
		resetSteps   int
		interval     time.Duration
		progress     ProgressFunc
		log          log.Logger
	}

	// Option configures renderer.
	Option func(*Renderer) error

	// Status is progress of a single instance.
	Status struct {
		Instance  int
		Processed int
		Total     int
		Done      bool
	}

	// ProgressFunc receives statuses of all instances.
	ProgressFunc func([]Status)

	// Mixdown is the rendered output. Only the slice of Format is set.
	Mixdown struct {
		Format     signal.Format
		SampleRate int
		S16        []signal.Frame[int16]
		S32        []signal.Frame[int32]
		F32        []signal.Frame[float32]
	}
)

// New returns renderer that creates emulators with factory.
func New(factory Factory, opts ...Option) (*Renderer, error) {
	r := &Renderer{
		newEmulator: factory,
		instances:   1,
		format:      signal.S16,
		stepsPerUS:  DefaultStepsPerMicrosecond,
		resetSteps:  DefaultResetSteps,
		interval:    DefaultProgressInterval,
		progress:    func([]Status) {},
		log:         log.Silent(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// WithInstances sets number of emulator instances.
func WithInstances(n int) Option {
	return func(r *Renderer) error {
		if n < 1 || n > emustream.MaxInstances {
			return fmt.Errorf("%w: %d", ErrInstances, n)
		}
		r.instances = n
		return nil
	}
}

// WithFormat sets output sample format.
func WithFormat(f signal.Format) Option {
	return func(r *Renderer) error {
		r.format = f
		return nil
	}
}

// WithOversampling enables emulator oversampling.
func WithOversampling(enabled bool) Option {
	return func(r *Renderer) error {
		r.oversampling = enabled
		return nil
	}
}

// WithReset sends system reset to every instance before rendering and
// runs steps to let it settle. Output during reset is discarded.
func WithReset(reset emustream.SystemReset, steps int) Option {
	return func(r *Renderer) error {
		r.reset = reset
		r.resetSteps = steps
		return nil
	}
}

// WithStepsPerMicrosecond sets emulation rate of the simulated clock.
func WithStepsPerMicrosecond(n int) Option {
	return func(r *Renderer) error {
		if n < 1 {
			return fmt.Errorf("steps per microsecond must be positive: %d", n)
		}
		r.stepsPerUS = n
		return nil
	}
}

// WithProgress sets progress callback and its interval.
func WithProgress(interval time.Duration, fn ProgressFunc) Option {
	return func(r *Renderer) error {
		if interval <= 0 {
			interval = DefaultProgressInterval
		}
		r.interval = interval
		if fn != nil {
			r.progress = fn
		}
		return nil
	}
}

// WithLogger sets logger of the renderer.
func WithLogger(l log.Logger) Option {
	return func(r *Renderer) error {
		r.log = l
		return nil
	}
}

// Len returns number of frames in mixdown.
func (m *Mixdown) Len() int {
	switch m.Format {
	case signal.S16:
		return len(m.S16)
	case signal.S32:
		return len(m.S32)
	}
	return len(m.F32)
}

// Render splits time sorted events across instances, simulates them in
// parallel and mixes the result. If any emulator fails to initialize, no
// simulation is started.
func (r *Renderer) Render(ctx context.Context, events []Event, division uint16) (*Mixdown, error) {
	if division == 0 {
		return nil, ErrDivision
	}
	tracks := Split(events, r.instances)
	m := Mixdown{Format: r.format}
	var err error
	switch r.format {
	case signal.S16:
		m.S16, m.SampleRate, err = run[int16](ctx, r, tracks, uint64(division))
	case signal.S32:
		m.S32, m.SampleRate, err = run[int32](ctx, r, tracks, uint64(division))
	case signal.F32:
		m.F32, m.SampleRate, err = run[float32](ctx, r, tracks, uint64(division))
	default:
		return nil, fmt.Errorf("%w: %v", signal.ErrUnknownFormat, r.format)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// state is the render state of a single instance.
type state[T signal.Sample] struct {
	emu       emustream.Emulator
	track     []Scheduled
	frames    []signal.Frame[T]
	simulated uint64
	processed atomic.Int64
	done      atomic.Bool
	err       error
}

func run[T signal.Sample](ctx context.Context, r *Renderer, tracks [][]Scheduled, division uint64) ([]signal.Frame[T], int, error) {
	states := make([]*state[T], len(tracks))
	convert := signal.Converter[T]()
	for i := range tracks {
		emu := r.newEmulator()
		if err := emu.Init(emustream.Options{Oversampling: r.oversampling}); err != nil {
			return nil, 0, fmt.Errorf("instance %d init: %w", i, err)
		}
		if r.reset != emustream.ResetNone {
			r.log.WithField("instance", i).Infof("running %v system reset", r.reset)
			systemReset(emu, r.reset, r.resetSteps)
		}
		s := &state[T]{emu: emu, track: tracks[i]}
		emu.SetSampleCallback(func(n signal.Native) {
			s.frames = append(s.frames, convert(n))
		})
		states[i] = s
	}

	var wg sync.WaitGroup
	for _, s := range states {
		wg.Add(1)
		go func(s *state[T]) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			s.run(ctx, division, r.stepsPerUS)
		}(s)
	}
	r.wait(func() ([]Status, bool) {
		statuses := make([]Status, len(states))
		all := true
		for i, s := range states {
			statuses[i] = s.status(i)
			all = all && statuses[i].Done
		}
		return statuses, all
	})
	wg.Wait()

	var errs emustream.Errors
	buffers := make([][]signal.Frame[T], len(states))
	for i, s := range states {
		errs.Add(s.err)
		buffers[i] = s.frames
	}
	if err := errs.Ret(); err != nil {
		return nil, 0, err
	}
	r.log.WithField("instances", len(states)).Info("mixing")
	return Mix(buffers...), states[0].emu.OutputFrequency(), nil
}

// wait polls statuses until every instance is done. It only observes.
func (r *Renderer) wait(poll func() ([]Status, bool)) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		statuses, done := poll()
		r.progress(statuses)
		if done {
			return
		}
		<-ticker.C
	}
}

func (s *state[T]) status(i int) Status {
	// done is loaded first so processed is final when done is set
	done := s.done.Load()
	return Status{
		Instance:  i,
		Processed: int(s.processed.Load()),
		Total:     len(s.track),
		Done:      done,
	}
}

// run simulates the sub-sequence. The clock is private to the instance.
func (s *state[T]) run(ctx context.Context, division uint64, stepsPerUS int) {
	defer s.done.Store(true)
	usPerQN := uint64(DefaultTempo)
	for _, e := range s.track {
		if err := ctx.Err(); err != nil {
			s.err = err
			return
		}
		target := s.simulated + ticksToUS(e.Delta, usPerQN, division)
		for s.simulated < target {
			for i := 0; i < stepsPerUS; i++ {
				s.emu.Step()
			}
			s.simulated++
		}
		if e.IsTempo() {
			usPerQN = e.TempoUS()
		}
		if !e.IsMeta() {
			s.emu.PostMIDI(e.Bytes())
		}
		s.processed.Add(1)
	}
}

func systemReset(emu emustream.Emulator, reset emustream.SystemReset, steps int) {
	if r, ok := emu.(emustream.Resetter); ok {
		r.PostSystemReset(reset)
	} else {
		emu.PostMIDI(reset.Message())
	}
	for i := 0; i < steps; i++ {
		emu.Step()
	}
}

// Mix sums buffers in order into a new buffer as long as the longest one.
// Fixed point samples saturate.
func Mix[T signal.Sample](buffers ...[]signal.Frame[T]) []signal.Frame[T] {
	n := 0
	for _, b := range buffers {
		n = max(n, len(b))
	}
	out := make([]signal.Frame[T], n)
	mix := signal.MixFunc[T]()
	for _, b := range buffers {
		mix(out, b)
	}
	return out
}
