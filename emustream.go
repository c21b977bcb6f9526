package emustream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/dudk/emustream/signal"
)

// MaxInstances is the maximum number of concurrently running emulator
// instances. It's equal to the number of MIDI channels.
const MaxInstances = 16

// ErrInvalidState is returned if a method cannot be executed at this moment.
var ErrInvalidState = errors.New("invalid state")

type (
	// Emulator is an emulated sound module. It's not safe for concurrent
	// use: all calls for a single emulator come from one goroutine.
	Emulator interface {
		// Init prepares the emulator. No other method is called before it.
		Init(Options) error
		// Step advances emulation by one step. The sample callback may be
		// called zero or more times during a step.
		Step()
		// SetSampleCallback sets the function that receives produced frames.
		SetSampleCallback(func(signal.Native))
		// PostMIDI enqueues a complete MIDI message.
		PostMIDI([]byte)
		// OutputFrequency returns the sample rate of produced frames.
		OutputFrequency() int
	}

	// Resetter is implemented by emulators that can be put into a known
	// state with a system reset message.
	Resetter interface {
		PostSystemReset(SystemReset)
	}

	// Options configures emulator initialization.
	Options struct {
		// Oversampling doubles output frequency when enabled.
		Oversampling bool
	}

	// SystemReset selects a system reset message.
	SystemReset int

	// UID is a unique identifier of a running component.
	UID string
)

// Supported system resets.
const (
	ResetNone SystemReset = iota
	ResetGS
	ResetGM
)

var (
	// ErrUnknownReset is returned when reset name cannot be parsed.
	ErrUnknownReset = errors.New("unknown system reset")

	gmReset = []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7}
	gsReset = []byte{0xF0, 0x41, 0x10, 0x42, 0x12, 0x40, 0x00, 0x7F, 0x00, 0x41, 0xF7}
)

// ParseSystemReset returns reset by its name: none, gs or gm.
func ParseSystemReset(s string) (SystemReset, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ResetNone, nil
	case "gs":
		return ResetGS, nil
	case "gm":
		return ResetGM, nil
	}
	return ResetNone, fmt.Errorf("%w: %q", ErrUnknownReset, s)
}

func (r SystemReset) String() string {
	switch r {
	case ResetGS:
		return "gs"
	case ResetGM:
		return "gm"
	}
	return "none"
}

// Message returns the SysEx message of the reset. It's nil for ResetNone.
func (r SystemReset) Message() []byte {
	switch r {
	case ResetGS:
		return gsReset
	case ResetGM:
		return gmReset
	}
	return nil
}

// NewUID returns new unique id value.
func NewUID() UID {
	return UID(xid.New().String())
}
