package oto

import (
	"github.com/dudk/emustream/metric"
	"github.com/dudk/emustream/output"
)

// reader serves player reads of any size from whole mixes of a page.
type reader struct {
	core    output.Core
	staging []byte
	// pos is the read position in staging, len(staging) when drained.
	pos     int
	frames  int64
	meter   metric.ResetFunc
	measure metric.MeasureFunc
}

func newReader(core output.Core, page int, meter metric.ResetFunc) *reader {
	staging := make([]byte, page*core.Format().FrameSize())
	return &reader{
		core:    core,
		staging: staging,
		pos:     len(staging),
		frames:  int64(page),
		meter:   meter,
	}
}

// Read implements io.Reader. It never returns an error, silence is served
// when sources are short.
func (r *reader) Read(p []byte) (int, error) {
	if r.measure == nil {
		r.measure = r.meter()
	}
	n := 0
	for n < len(p) {
		if r.pos == len(r.staging) {
			r.core.MixBytes(r.staging)
			r.measure(r.frames)
			r.pos = 0
		}
		c := copy(p[n:], r.staging[r.pos:])
		r.pos += c
		n += c
	}
	return n, nil
}
