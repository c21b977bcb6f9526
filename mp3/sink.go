package mp3

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/viert/lame"

	"github.com/dudk/emustream/render"
	"github.com/dudk/emustream/signal"
)

// Default encoder settings.
const (
	DefaultBitRate = 192
	DefaultQuality = 2
)

// chunkSize is the number of frames encoded per write.
const chunkSize = 4096

// Sink allows to send data to mp3 files. Samples are encoded as 16 bit.
type Sink struct {
	path    string
	bitRate int
	quality int
}

// NewSink creates new Sink.
func NewSink(path string, bitRate int, quality int) *Sink {
	return &Sink{
		path:    path,
		bitRate: bitRate,
		quality: quality,
	}
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

	wr := lame.NewWriter(f)
	wr.Encoder.SetBitrate(s.bitRate)
	wr.Encoder.SetQuality(s.quality)
	wr.Encoder.SetNumChannels(signal.NumChannels)
	wr.Encoder.SetInSamplerate(m.SampleRate)
	wr.Encoder.SetMode(lame.JOINT_STEREO)
	wr.Encoder.SetVBR(lame.VBR_RH)
	wr.Encoder.InitParams()

	switch m.Format {
	case signal.S16:
		err = encode(wr, m.S16)
	case signal.S32:
		err = encode(wr, m.S32)
	default:
		err = encode(wr, m.F32)
	}
	if err != nil {
		return err
	}
	return wr.Close()
}

func encode[T signal.Sample](wr *lame.LameWriter, frames []signal.Frame[T]) error {
	buf := new(bytes.Buffer)
	pcm := make([]int16, 0, chunkSize*signal.NumChannels)
	for len(frames) > 0 {
		n := min(chunkSize, len(frames))
		pcm = pcm[:0]
		for _, fr := range frames[:n] {
			pcm = append(pcm, signal.Int16(fr.L), signal.Int16(fr.R))
		}
		buf.Reset()
		if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
			return err
		}
		if _, err := wr.Write(buf.Bytes()); err != nil {
			return err
		}
		frames = frames[n:]
	}
	return nil
}
