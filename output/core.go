package output

import (
	"fmt"

	"github.com/dudk/emustream/metric"
	"github.com/dudk/emustream/ring"
	"github.com/dudk/emustream/signal"
)

// Core mixes sources into device buffers of a fixed format.
type Core interface {
	Add(Source) error
	Len() int
	Format() signal.Format
	// MixBytes mixes interleaved little endian frames into dst and returns
	// the number of sources that couldn't fill it.
	MixBytes(dst []byte) int
}

// Mixer sums sources of sample type T. Add is called from the owning
// goroutine before the device is started, Mix from the device thread.
type Mixer[T signal.Sample] struct {
	format    signal.Format
	streams   []*ring.Stream[signal.Frame[T]]
	mix       func(dst, src []signal.Frame[T])
	underruns func(int64)
}

// NewCore returns a mixer for the format. Underruns are metered for the
// component.
func NewCore(f signal.Format, component interface{}) (Core, error) {
	switch f {
	case signal.S16:
		return NewMixer[int16](f, component), nil
	case signal.S32:
		return NewMixer[int32](f, component), nil
	case signal.F32:
		return NewMixer[float32](f, component), nil
	}
	return nil, fmt.Errorf("%w: %v", signal.ErrUnknownFormat, f)
}

// NewMixer returns an empty mixer.
func NewMixer[T signal.Sample](f signal.Format, component interface{}) *Mixer[T] {
	return &Mixer[T]{
		format:    f,
		mix:       signal.MixFunc[T](),
		underruns: metric.Underruns(component),
	}
}

// Add registers source.
func (m *Mixer[T]) Add(s Source) error {
	if len(m.streams) >= MaxSources {
		return ErrTooManySources
	}
	if s.Format() != m.format {
		return fmt.Errorf("%w: %v != %v", ErrFormatMismatch, s.Format(), m.format)
	}
	stream, err := ring.Overlay[signal.Frame[T]](s.View())
	if err != nil {
		return err
	}
	m.streams = append(m.streams, stream)
	return nil
}

// Len returns number of sources.
func (m *Mixer[T]) Len() int {
	return len(m.streams)
}

// Format returns format of the mixer.
func (m *Mixer[T]) Format() signal.Format {
	return m.format
}

// Mix zeroes dst and adds len(dst) frames of every source that has them.
// Sources with less data are skipped and contribute silence. It returns
// the number of skipped sources.
func (m *Mixer[T]) Mix(dst []signal.Frame[T]) int {
	clear(dst)
	short := 0
	for _, s := range m.streams {
		if s.Readable() < len(dst) {
			short++
			continue
		}
		m.add(s, dst)
	}
	m.underruns(int64(short))
	return short
}

// MixStrict adds len(dst) frames of all sources only when every source has
// them. Otherwise dst is silent, nothing is consumed and false is
// returned.
func (m *Mixer[T]) MixStrict(dst []signal.Frame[T]) bool {
	clear(dst)
	for _, s := range m.streams {
		if s.Readable() < len(dst) {
			m.underruns(1)
			return false
		}
	}
	for _, s := range m.streams {
		m.add(s, dst)
	}
	return true
}

// MixBytes implements Core.
func (m *Mixer[T]) MixBytes(dst []byte) int {
	return m.Mix(signal.FramesOf[T](dst))
}

func (m *Mixer[T]) add(s *ring.Stream[signal.Frame[T]], dst []signal.Frame[T]) {
	head, tail := s.Segments(len(dst))
	m.mix(dst, head)
	if len(tail) > 0 {
		m.mix(dst[len(head):], tail)
	}
	s.CommitRead(len(dst))
}
