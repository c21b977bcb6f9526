// Package midi routes MIDI messages to emulator instances.
package midi

import (
	"github.com/dudk/emustream/log"
)

// Status bytes with special routing.
const (
	SysEx    = 0xF0
	EndSysEx = 0xF7
)

// Target receives complete MIDI messages. Targets must not retain the
// message slice.
type Target interface {
	PostMIDI([]byte)
}

// Router dispatches messages to a fixed set of targets. Channel messages go
// to the target selected by channel modulo number of targets, system
// messages are broadcast. The mapping is fixed for the router lifetime.
type Router struct {
	targets []Target
	log     log.Logger
}

// Option configures router.
type Option func(*Router)

// WithLogger sets logger for dropped messages.
func WithLogger(l log.Logger) Option {
	return func(r *Router) {
		r.log = l
	}
}

// NewRouter returns router over targets. At least one target is required.
func NewRouter(targets []Target, opts ...Option) *Router {
	r := &Router{
		targets: targets,
		log:     log.Silent(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route delivers a complete message. Messages starting with a data byte
// are logged and dropped.
func (r *Router) Route(msg []byte) {
	if len(msg) == 0 || len(r.targets) == 0 {
		return
	}
	status := msg[0]
	switch {
	case status < 0x80:
		r.log.WithField("status", status).Warn("midi: message starts with data byte, dropped")
	case status >= SysEx:
		for _, t := range r.targets {
			t.PostMIDI(msg)
		}
	default:
		r.targets[Channel(status)%len(r.targets)].PostMIDI(msg)
	}
}

// Channel returns channel of a channel message status byte.
func Channel(status byte) int {
	return int(status & 0x0F)
}
