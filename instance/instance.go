// Package instance runs emulators as real-time producers. Every instance
// owns an emulator and a ring and steps the emulator on a goroutine locked
// to an OS thread, converting produced frames into the ring format.
package instance

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/log"
	"github.com/dudk/emustream/metric"
	"github.com/dudk/emustream/ring"
	"github.com/dudk/emustream/signal"
)

// Defaults of producer configuration.
const (
	DefaultPageSize          = 512
	DefaultPageCount         = 16
	DefaultHighWaterPages    = 8
	DefaultBackpressureSleep = time.Millisecond
	// midiQueueSize is the number of messages buffered between the poster
	// and the producer.
	midiQueueSize = 1024
)

var (
	// ErrPageSize is returned when page size is not a power of two.
	ErrPageSize = errors.New("page size must be a power of two")
	// ErrPageCount is returned when there are less than two pages.
	ErrPageCount = errors.New("page count must be at least 2")
	// ErrMIDIOverflow is returned by PostMIDI when the queue is full.
	ErrMIDIOverflow = errors.New("midi queue overflow")
)

type (
	// Config configures an instance.
	Config struct {
		Format signal.Format
		// PageSize is the batch size in frames, a power of two.
		PageSize int
		// PageCount is the number of pages the ring is sized for.
		PageCount int
		// HighWaterPages is the readable level in pages at which the
		// producer sleeps. It's clamped to leave two writable pages.
		HighWaterPages int
		// BackpressureSleep is the sleep duration at high water.
		BackpressureSleep time.Duration
		Oversampling      bool
	}

	// Instance is a running emulator producing into a ring.
	Instance struct {
		emustream.UID
		emu     emustream.Emulator
		cfg     Config
		arena   ring.Buffer
		view    *ring.View
		high    int
		midi    chan []byte
		loop    func()
		log     log.Logger
		meter   metric.ResetFunc
		running atomic.Bool
		done    chan struct{}

		// producing is set while the producer goroutine owns the emulator.
		producing atomic.Bool
	}

	// Option configures instance.
	Option func(*Instance)
)

// WithLogger sets logger of the instance.
func WithLogger(l log.Logger) Option {
	return func(i *Instance) {
		i.log = l
	}
}

// New initializes emulator and allocates the ring of the instance.
func New(emu emustream.Emulator, cfg Config, opts ...Option) (*Instance, error) {
	cfg = cfg.withDefaults()
	if !ring.IsPow2(cfg.PageSize) {
		return nil, fmt.Errorf("%w: %d", ErrPageSize, cfg.PageSize)
	}
	if cfg.Oversampling && cfg.PageSize < 2 {
		return nil, fmt.Errorf("%w: oversampling needs even pages", ErrPageSize)
	}
	if cfg.PageCount < 2 {
		return nil, fmt.Errorf("%w: %d", ErrPageCount, cfg.PageCount)
	}
	if err := emu.Init(emustream.Options{Oversampling: cfg.Oversampling}); err != nil {
		return nil, fmt.Errorf("emulator init: %w", err)
	}
	i := &Instance{
		UID:  emustream.NewUID(),
		emu:  emu,
		cfg:  cfg,
		midi: make(chan []byte, midiQueueSize),
		log:  log.Silent(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if !i.arena.Init(RingSize(cfg.PageSize, cfg.PageCount, cfg.Format)) {
		return nil, ring.ErrAlloc
	}
	var err error
	if i.view, err = ring.NewView(&i.arena); err != nil {
		return nil, err
	}
	switch cfg.Format {
	case signal.S16:
		err = setup[int16](i)
	case signal.S32:
		err = setup[int32](i)
	case signal.F32:
		err = setup[float32](i)
	default:
		err = fmt.Errorf("%w: %v", signal.ErrUnknownFormat, cfg.Format)
	}
	if err != nil {
		i.arena.Free()
		return nil, err
	}
	i.meter = metric.Meter(i, emu.OutputFrequency())
	return i, nil
}

// RingSize returns arena size in bytes for the configuration.
func RingSize(pageSize, pageCount int, f signal.Format) int {
	return ring.CeilPow2(1 + pageSize*pageCount*f.FrameSize())
}

func (cfg Config) withDefaults() Config {
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PageCount == 0 {
		cfg.PageCount = DefaultPageCount
	}
	if cfg.HighWaterPages == 0 {
		cfg.HighWaterPages = DefaultHighWaterPages
	}
	if cfg.BackpressureSleep == 0 {
		cfg.BackpressureSleep = DefaultBackpressureSleep
	}
	return cfg
}

// View returns the ring view consumed by output backends.
func (i *Instance) View() *ring.View {
	return i.view
}

// Format returns format of the ring.
func (i *Instance) Format() signal.Format {
	return i.cfg.Format
}

// PageSize returns batch size in frames.
func (i *Instance) PageSize() int {
	return i.cfg.PageSize
}

// Frequency returns output frequency of the emulator.
func (i *Instance) Frequency() int {
	return i.emu.OutputFrequency()
}

// HighWater returns readable level in frames at which the producer sleeps.
func (i *Instance) HighWater() int {
	return i.high
}

// PostMIDI delivers a message to the emulator. While the producer runs
// the message is copied and delivered by the producer between steps, and
// dropped when the queue is full. Otherwise it's delivered directly, so it
// must not race with Start.
func (i *Instance) PostMIDI(msg []byte) {
	if !i.producing.Load() {
		i.flushMIDI()
		i.emu.PostMIDI(msg)
		return
	}
	select {
	case i.midi <- append([]byte(nil), msg...):
	default:
		i.log.WithField("instance", i.UID).Warn(ErrMIDIOverflow)
	}
}

// flushMIDI delivers queued messages. It's called by the emulator owner.
func (i *Instance) flushMIDI() {
	for len(i.midi) > 0 {
		i.emu.PostMIDI(<-i.midi)
	}
}

// PostSystemReset posts a system reset message.
func (i *Instance) PostSystemReset(r emustream.SystemReset) {
	if msg := r.Message(); msg != nil {
		i.PostMIDI(msg)
	}
}

// Start runs the producer goroutine.
func (i *Instance) Start() error {
	if !i.running.CompareAndSwap(false, true) {
		return fmt.Errorf("instance %v start: %w", i.UID, emustream.ErrInvalidState)
	}
	i.done = make(chan struct{})
	i.producing.Store(true)
	go func() {
		defer close(i.done)
		defer i.producing.Store(false)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		i.log.WithField("instance", i.UID).Debug("producer started")
		i.loop()
		i.log.WithField("instance", i.UID).Debug("producer stopped")
	}()
	return nil
}

// Running reports if producer is running.
func (i *Instance) Running() bool {
	return i.running.Load()
}

// Stop clears the running flag and waits for the producer to exit. Output
// backends must stop consuming before instances are stopped.
func (i *Instance) Stop() error {
	if !i.running.CompareAndSwap(true, false) {
		return fmt.Errorf("instance %v stop: %w", i.UID, emustream.ErrInvalidState)
	}
	<-i.done
	return nil
}

// Close releases the ring. Instance must be stopped.
func (i *Instance) Close() error {
	if i.running.Load() {
		return fmt.Errorf("instance %v close: %w", i.UID, emustream.ErrInvalidState)
	}
	i.arena.Free()
	return nil
}

// setup builds the typed overlay and the producer loop once.
func setup[T signal.Sample](i *Instance) error {
	s, err := ring.Overlay[signal.Frame[T]](i.view)
	if err != nil {
		return err
	}
	if i.cfg.Oversampling {
		s.SetOversampling(true)
	}
	page := i.cfg.PageSize
	// slots that are never writable
	reserved := 1
	if i.cfg.Oversampling {
		reserved = 2
	}
	i.high = min(i.cfg.HighWaterPages*page, s.Capacity()-2*page-reserved+1)
	i.loop = producer(i, s)
	return nil
}

func producer[T signal.Sample](i *Instance, s *ring.Stream[signal.Frame[T]]) func() {
	var (
		convert = signal.Converter[T]()
		page    = i.cfg.PageSize
		batch   []signal.Frame[T]
		pos     int
		measure metric.MeasureFunc
	)
	// reserve waits for a free page. It returns false if the producer was
	// stopped while waiting.
	reserve := func() bool {
		for s.Writable() < page {
			if !i.running.Load() {
				return false
			}
			time.Sleep(i.cfg.BackpressureSleep)
		}
		batch = s.ReserveWrite(page)
		pos = 0
		return true
	}
	commit := func() {
		s.CommitWrite(pos)
		measure(int64(pos))
		batch = nil
	}
	i.emu.SetSampleCallback(func(n signal.Native) {
		// a step may produce more than a page, a full ring stalls it
		if batch == nil && !reserve() {
			return
		}
		batch[pos] = convert(n)
		pos++
		if pos == page {
			commit()
		}
	})

	return func() {
		measure = i.meter()
		for i.running.Load() {
			if s.Readable() >= i.high {
				time.Sleep(i.cfg.BackpressureSleep)
				continue
			}
			if batch == nil && !reserve() {
				return
			}
			i.flushMIDI()
			i.emu.Step()
		}
	}
}
