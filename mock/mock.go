// Package mock provides a deterministic emulator for tests.
package mock

import (
	"sync"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/signal"
)

const defaultFrequency = 32000

// Emulator emits one frame every Period steps. The frame value is the sum
// of velocities of held notes scaled by Scale, right channel is inverted.
// Posted messages are recorded.
type Emulator struct {
	Frequency int
	Period    int
	Scale     int32
	InitErr   error

	mu       sync.Mutex
	messages [][]byte
	resets   []emustream.SystemReset
	options  emustream.Options

	steps    int
	level    int32
	notes    map[[2]byte]int32
	callback func(signal.Native)
}

// Init implements emustream.Emulator.
func (e *Emulator) Init(o emustream.Options) error {
	if e.InitErr != nil {
		return e.InitErr
	}
	if e.Frequency == 0 {
		e.Frequency = defaultFrequency
	}
	if e.Period == 0 {
		e.Period = 1
	}
	if e.Scale == 0 {
		e.Scale = 1 << 16
	}
	e.options = o
	e.notes = make(map[[2]byte]int32)
	return nil
}

// Step implements emustream.Emulator.
func (e *Emulator) Step() {
	e.steps++
	if e.steps%e.Period == 0 && e.callback != nil {
		e.callback(signal.Native{L: e.level, R: -e.level})
	}
}

// SetSampleCallback implements emustream.Emulator.
func (e *Emulator) SetSampleCallback(fn func(signal.Native)) {
	e.callback = fn
}

// OutputFrequency implements emustream.Emulator.
func (e *Emulator) OutputFrequency() int {
	if e.options.Oversampling {
		return e.Frequency * 2
	}
	return e.Frequency
}

// PostMIDI implements emustream.Emulator.
func (e *Emulator) PostMIDI(msg []byte) {
	e.mu.Lock()
	e.messages = append(e.messages, append([]byte(nil), msg...))
	e.mu.Unlock()
	if len(msg) < 3 {
		return
	}
	key := [2]byte{msg[0] & 0x0F, msg[1]}
	switch msg[0] & 0xF0 {
	case 0x90:
		if msg[2] > 0 {
			v := int32(msg[2]) * e.Scale
			e.level += v - e.notes[key]
			e.notes[key] = v
			return
		}
		fallthrough
	case 0x80:
		e.level -= e.notes[key]
		delete(e.notes, key)
	}
}

// PostSystemReset implements emustream.Resetter.
func (e *Emulator) PostSystemReset(r emustream.SystemReset) {
	e.mu.Lock()
	e.resets = append(e.resets, r)
	e.mu.Unlock()
	e.level = 0
	clear(e.notes)
}

// Messages returns posted messages.
func (e *Emulator) Messages() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.messages...)
}

// Resets returns posted system resets.
func (e *Emulator) Resets() []emustream.SystemReset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emustream.SystemReset(nil), e.resets...)
}

// Steps returns number of steps done.
func (e *Emulator) Steps() int {
	return e.steps
}
