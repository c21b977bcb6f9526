// Package signal defines stereo frames, sample formats and the conversion
// and mixing rules shared by producers, output backends and the renderer:
//	- native emulator frames are converted once per sample into the
//	  stream format
//	- fixed point mixes saturate, float mixes do not
package signal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NumChannels is the number of interleaved channels in every frame.
const NumChannels = 2

const (
	// BitDepth16 is 16 bit depth.
	BitDepth16 = BitDepth(16)
	// BitDepth32 is 32 bit depth.
	BitDepth32 = BitDepth(32)
)

// BitDepth is a number of bits per sample.
type BitDepth int

// Format is a sample format of a stream. It's selected once per stream.
type Format int

const (
	// S16 is signed 16 bit integer.
	S16 Format = iota
	// S32 is signed 32 bit integer.
	S32
	// F32 is 32 bit float.
	F32
)

// ErrUnknownFormat is returned when format name cannot be parsed.
var ErrUnknownFormat = errors.New("unknown sample format")

var formatNames = [...]string{
	S16: "s16",
	S32: "s32",
	F32: "f32",
}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// ParseFormat returns format by its name. Matching is case insensitive.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if strings.EqualFold(s, name) {
			return Format(f), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// SampleSize returns size of a single sample in bytes.
func (f Format) SampleSize() int {
	if f == S16 {
		return 2
	}
	return 4
}

// FrameSize returns size of a single stereo frame in bytes.
func (f Format) FrameSize() int {
	return f.SampleSize() * NumChannels
}

// BitDepth returns bit depth of the format.
func (f Format) BitDepth() BitDepth {
	if f == S16 {
		return BitDepth16
	}
	return BitDepth32
}

// IsFloat reports if samples are floating point.
func (f Format) IsFloat() bool {
	return f == F32
}

// DurationOf returns time duration of passed frames for this sample rate.
func DurationOf(sampleRate int, frames int64) time.Duration {
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}
