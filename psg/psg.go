// Package psg is a MIDI driven emulator built on the SN76489 programmable
// sound generator. Channels are mapped onto three tone voices and channel
// 10 onto the noise voice.
package psg

import (
	"math"

	sn76489 "github.com/user-none/go-chip-sn76489"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/midi"
	"github.com/dudk/emustream/signal"
)

const (
	// Clock is the chip clock in Hz.
	Clock = 3579545
	// Frequency is the output sample rate without oversampling.
	Frequency = 32000
	// StepsPerMicrosecond is the emulated step rate.
	StepsPerMicrosecond = 2

	stepsPerSecond = StepsPerMicrosecond * 1000000
	bufferSize     = 1024
	// gain of a single voice, four voices reach the native full scale
	gain = 4096
	// native frames carry 16 bit chip samples shifted to 2^29 full scale
	nativeShift = 15

	toneVoices = 3
	noiseVoice = 3
	// drumChannel is MIDI channel 10.
	drumChannel = 9
	silent      = 15
	noNote      = -1
)

// MIDI controllers that silence a channel.
const (
	allSoundOff = 120
	allNotesOff = 123
)

// Emulator drives the chip from MIDI messages.
type Emulator struct {
	chip      *sn76489.SN76489
	frequency int
	// acc is the fractional chip cycle accumulator in steps.
	acc      int
	notes    [4]int
	callback func(signal.Native)
}

// New returns an emulator. It must be initialized before use.
func New() *Emulator {
	return &Emulator{}
}

// Init implements emustream.Emulator.
func (e *Emulator) Init(o emustream.Options) error {
	e.frequency = Frequency
	if o.Oversampling {
		e.frequency *= 2
	}
	e.chip = sn76489.New(Clock, e.frequency, bufferSize, sn76489.Sega)
	e.chip.SetGain(gain)
	e.silence()
	e.chip.ResetBuffer()
	return nil
}

// Step implements emustream.Emulator.
func (e *Emulator) Step() {
	e.acc += Clock
	cycles := e.acc / stepsPerSecond
	e.acc %= stepsPerSecond
	if cycles == 0 {
		return
	}
	e.chip.Run(cycles)
	buf, n := e.chip.GetBuffer()
	if n == 0 {
		return
	}
	if e.callback != nil {
		for _, s := range buf[:n] {
			v := int32(s) << nativeShift
			e.callback(signal.Native{L: v, R: v})
		}
	}
	e.chip.ResetBuffer()
}

// SetSampleCallback implements emustream.Emulator.
func (e *Emulator) SetSampleCallback(fn func(signal.Native)) {
	e.callback = fn
}

// OutputFrequency implements emustream.Emulator.
func (e *Emulator) OutputFrequency() int {
	return e.frequency
}

// PostMIDI implements emustream.Emulator.
func (e *Emulator) PostMIDI(msg []byte) {
	if len(msg) == 0 {
		return
	}
	status := msg[0]
	if status == midi.SysEx {
		if isReset(msg) {
			e.silence()
		}
		return
	}
	if status >= 0xF0 || len(msg) < 2 {
		return
	}
	v := voice(midi.Channel(status))
	switch status & 0xF0 {
	case 0x90:
		if len(msg) < 3 {
			return
		}
		if msg[2] == 0 {
			e.noteOff(v, int(msg[1]))
			return
		}
		e.noteOn(v, int(msg[1]), msg[2])
	case 0x80:
		e.noteOff(v, int(msg[1]))
	case 0xB0:
		if len(msg) < 3 {
			return
		}
		if msg[1] == allSoundOff || msg[1] == allNotesOff {
			e.mute(v)
		}
	}
}

// PostSystemReset implements emustream.Resetter.
func (e *Emulator) PostSystemReset(r emustream.SystemReset) {
	if r != emustream.ResetNone {
		e.silence()
	}
}

func voice(channel int) int {
	if channel == drumChannel {
		return noiseVoice
	}
	return channel % toneVoices
}

func isReset(msg []byte) bool {
	return string(msg) == string(emustream.ResetGS.Message()) ||
		string(msg) == string(emustream.ResetGM.Message())
}

func (e *Emulator) noteOn(v, note int, velocity byte) {
	if v == noiseVoice {
		e.chip.Write(0xE4 | noiseRate(note))
	} else {
		reg := ToneRegister(note)
		e.chip.Write(0x80 | byte(v)<<5 | byte(reg&0x0F))
		e.chip.Write(byte(reg >> 4))
	}
	e.chip.Write(0x90 | byte(v)<<5 | Attenuation(velocity))
	e.notes[v] = note
}

func (e *Emulator) noteOff(v, note int) {
	if e.notes[v] == note {
		e.mute(v)
	}
}

func (e *Emulator) mute(v int) {
	e.chip.Write(0x90 | byte(v)<<5 | silent)
	e.notes[v] = noNote
}

func (e *Emulator) silence() {
	for v := range e.notes {
		e.mute(v)
	}
}

// ToneRegister returns the 10 bit tone period of a MIDI note.
func ToneRegister(note int) int {
	freq := 440 * math.Pow(2, float64(note-69)/12)
	reg := int(math.Round(Clock / (32 * freq)))
	return max(1, min(reg, 1023))
}

// Attenuation maps velocity onto the 4 bit attenuation, 0 is the loudest.
func Attenuation(velocity byte) byte {
	return silent - min(velocity, 127)>>3
}

// noiseRate selects one of the fixed white noise rates by pitch.
func noiseRate(note int) byte {
	switch {
	case note < 48:
		return 2
	case note < 72:
		return 1
	}
	return 0
}
