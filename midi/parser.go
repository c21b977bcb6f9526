package midi

import (
	"context"
	"errors"
	"io"
)

// DefaultMaxSysEx is the default limit of a SysEx message length.
const DefaultMaxSysEx = 1024

// Parser assembles complete messages from a raw MIDI byte stream. It
// supports running status, SysEx and real-time bytes interleaved with
// other messages. Stray data bytes are emitted as single byte messages.
type Parser struct {
	emit     func([]byte)
	maxSysEx int
	running  byte
	need     int
	buf      []byte
	sysex    bool
	overflow bool
}

// NewParser returns parser that calls emit for every complete message.
// The message slice is reused after emit returns.
func NewParser(maxSysEx int, emit func([]byte)) *Parser {
	if maxSysEx <= 0 {
		maxSysEx = DefaultMaxSysEx
	}
	return &Parser{
		emit:     emit,
		maxSysEx: maxSysEx,
		buf:      make([]byte, 0, maxSysEx),
	}
}

// Feed parses next chunk of the stream.
func (p *Parser) Feed(b []byte) {
	for _, c := range b {
		p.feed(c)
	}
}

func (p *Parser) feed(c byte) {
	switch {
	case c >= 0xF8:
		// real-time bytes don't affect any state
		p.emit([]byte{c})
	case c == SysEx:
		p.buf = append(p.buf[:0], c)
		p.sysex = true
		p.overflow = false
		p.running = 0
	case c == EndSysEx:
		if p.sysex && !p.overflow {
			p.emit(append(p.buf, c))
		}
		p.reset()
	case c >= 0x80:
		// unterminated SysEx is dropped
		p.reset()
		p.start(c)
	case p.sysex:
		if len(p.buf) >= p.maxSysEx-1 {
			p.overflow = true
			return
		}
		p.buf = append(p.buf, c)
	case len(p.buf) == 0:
		if p.running == 0 {
			p.emit([]byte{c})
			return
		}
		p.buf = append(p.buf, p.running)
		p.need = dataLen(p.running)
		p.data(c)
	default:
		p.data(c)
	}
}

func (p *Parser) start(status byte) {
	p.buf = append(p.buf[:0], status)
	p.need = dataLen(status)
	if status < SysEx {
		p.running = status
	} else {
		// system common messages cancel running status
		p.running = 0
	}
	switch {
	case p.need == 0 && status == 0xF6:
		p.flush()
	case p.need < 0:
		// undefined status
		p.buf = p.buf[:0]
	}
}

func (p *Parser) data(c byte) {
	p.buf = append(p.buf, c)
	if len(p.buf) == 1+p.need {
		p.flush()
	}
}

func (p *Parser) flush() {
	p.emit(p.buf)
	p.buf = p.buf[:0]
}

func (p *Parser) reset() {
	p.buf = p.buf[:0]
	p.sysex = false
	p.overflow = false
}

// dataLen returns number of data bytes that follow status.
func dataLen(status byte) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 1
	case 0xF0:
		switch status {
		case 0xF1, 0xF3:
			return 1
		case 0xF2:
			return 2
		case 0xF6:
			return 0
		}
		return -1
	}
	return 2
}

// Pump reads raw MIDI bytes from r and routes complete messages until EOF
// or context is done. Blocked reads are interrupted by closing r.
func Pump(ctx context.Context, r io.Reader, router *Router, maxSysEx int) error {
	p := NewParser(maxSysEx, router.Route)
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		p.Feed(buf[:n])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
