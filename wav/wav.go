package wav

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/dudk/emustream/render"
	"github.com/dudk/emustream/signal"
)

// Audio format codes of the fmt chunk.
const (
	formatPCM   = 1
	formatFloat = 3
)

// chunkSize is the number of frames encoded per write.
const chunkSize = 4096

// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
var ErrUnsupportedBitDepth = errors.New("only 16 and 32 bit depth is supported")

// Sink saves mixdown to wav file. The 44 byte header is written first and
// patched with sizes when the file is closed.
type Sink struct {
	path string
}

// NewSink creates new wav sink.
func NewSink(path string) *Sink {
	return &Sink{path: path}
}

// Write encodes the mixdown into the file.
func (s *Sink) Write(m *render.Mixdown) (err error) {
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	format := formatPCM
	if m.Format.IsFloat() {
		format = formatFloat
	}
	bitDepth := int(m.Format.BitDepth())
	e := wav.NewEncoder(f, m.SampleRate, bitDepth, signal.NumChannels, format)
	ib := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: signal.NumChannels,
			SampleRate:  m.SampleRate,
		},
		SourceBitDepth: bitDepth,
		Data:           make([]int, 0, chunkSize*signal.NumChannels),
	}

	switch m.Format {
	case signal.S16:
		err = encode(e, ib, m.S16, func(v int16) int { return int(v) })
	case signal.S32:
		err = encode(e, ib, m.S32, func(v int32) int { return int(v) })
	case signal.F32:
		// float samples are written as their bit patterns
		err = encode(e, ib, m.F32, func(v float32) int { return int(int32(math.Float32bits(v))) })
	default:
		err = fmt.Errorf("%w: %v", signal.ErrUnknownFormat, m.Format)
	}
	if err != nil {
		return err
	}
	return e.Close()
}

func encode[T signal.Sample](e *wav.Encoder, ib *audio.IntBuffer, frames []signal.Frame[T], sample func(T) int) error {
	if len(frames) == 0 {
		// header is written with the first buffer
		return e.Write(ib)
	}
	for len(frames) > 0 {
		n := min(chunkSize, len(frames))
		ib.Data = ib.Data[:0]
		for _, fr := range frames[:n] {
			ib.Data = append(ib.Data, sample(fr.L), sample(fr.R))
		}
		if err := e.Write(ib); err != nil {
			return err
		}
		frames = frames[n:]
	}
	return nil
}

// Load reads pcm data of a wav file.
func Load(path string) (*audio.IntBuffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, errors.New("wav is not valid")
	}
	if signal.BitDepth(decoder.BitDepth) != signal.BitDepth16 && signal.BitDepth(decoder.BitDepth) != signal.BitDepth32 {
		return nil, ErrUnsupportedBitDepth
	}
	return decoder.FullPCMBuffer()
}
