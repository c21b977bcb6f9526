// Package smf reads Standard MIDI Files into time stamped events.
package smf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// Meta event types.
const (
	MetaStatus = 0xFF
	MetaTempo  = 0x51
)

var (
	// ErrMalformed is returned when the file doesn't follow SMF layout.
	ErrMalformed = errors.New("malformed midi file")
	// ErrDivision is returned for SMPTE time division which is not supported.
	ErrDivision = errors.New("unsupported time division")
)

type (
	// Header is the MThd chunk.
	Header struct {
		Format   uint16
		Tracks   uint16
		Division uint16
	}

	// Event is a single track event.
	Event struct {
		// Seq is the position of this event within its track. Used during
		// sorting so events with the same timestamp preserve ordering.
		Seq int
		// Time is an absolute timestamp in ticks relative to track start.
		Time uint64
		// DeltaTime is time since the prior event in ticks.
		DeltaTime uint64
		Status    byte
		// Data holds message data bytes. For meta events it starts with
		// the meta type followed by the payload.
		Data []byte
	}

	// Track is a sequence of events.
	Track struct {
		Events []Event
	}

	// File is a parsed midi file.
	File struct {
		Header Header
		Tracks []Track
	}
)

// Load reads midi file from path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(bufio.NewReader(f))
}

// Parse reads midi file from r. Unknown chunks are skipped.
func Parse(r io.Reader) (*File, error) {
	var (
		file   File
		header bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: chunk header: %v", ErrMalformed, err)
		}
		size := binary.BigEndian.Uint32(chunk[4:])
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("%w: chunk %q: %v", ErrMalformed, chunk[:4], err)
		}
		switch string(chunk[:4]) {
		case "MThd":
			if len(data) < 6 {
				return nil, fmt.Errorf("%w: short header", ErrMalformed)
			}
			file.Header = Header{
				Format:   binary.BigEndian.Uint16(data),
				Tracks:   binary.BigEndian.Uint16(data[2:]),
				Division: binary.BigEndian.Uint16(data[4:]),
			}
			if file.Header.Division&0x8000 != 0 || file.Header.Division == 0 {
				return nil, fmt.Errorf("%w: %#04x", ErrDivision, file.Header.Division)
			}
			header = true
		case "MTrk":
			if !header {
				return nil, fmt.Errorf("%w: track before header", ErrMalformed)
			}
			t, err := parseTrack(data)
			if err != nil {
				return nil, fmt.Errorf("track %d: %w", len(file.Tracks), err)
			}
			file.Tracks = append(file.Tracks, t)
		}
	}
	if !header {
		return nil, fmt.Errorf("%w: missing header", ErrMalformed)
	}
	return &file, nil
}

func parseTrack(data []byte) (Track, error) {
	var (
		t       Track
		r       = bytes.NewReader(data)
		running byte
		now     uint64
	)
	for r.Len() > 0 {
		delta, err := readVarint(r)
		if err != nil {
			return t, err
		}
		c, err := r.ReadByte()
		if err != nil {
			return t, fmt.Errorf("%w: missing event", ErrMalformed)
		}
		status := c
		if c < 0x80 {
			if running == 0 {
				return t, fmt.Errorf("%w: data byte %#02x without status", ErrMalformed, c)
			}
			status = running
			_ = r.UnreadByte()
		}

		var payload []byte
		switch {
		case status == MetaStatus:
			typ, err := r.ReadByte()
			if err != nil {
				return t, fmt.Errorf("%w: meta type", ErrMalformed)
			}
			body, err := readVarBytes(r)
			if err != nil {
				return t, err
			}
			payload = append([]byte{typ}, body...)
		case status == 0xF0 || status == 0xF7:
			payload, err = readVarBytes(r)
			if err != nil {
				return t, err
			}
		case status > 0xF0:
			return t, fmt.Errorf("%w: status %#02x in track", ErrMalformed, status)
		default:
			running = status
			n := 2
			if s := status & 0xF0; s == 0xC0 || s == 0xD0 {
				n = 1
			}
			payload = make([]byte, n)
			if _, err := io.ReadFull(r, payload); err != nil {
				return t, fmt.Errorf("%w: short channel message", ErrMalformed)
			}
		}

		now += delta
		t.Events = append(t.Events, Event{
			Seq:       len(t.Events) + 1,
			Time:      now,
			DeltaTime: delta,
			Status:    status,
			Data:      payload,
		})
	}
	return t, nil
}

func readVarint(r io.ByteReader) (uint64, error) {
	var v uint64
	for i := 0; i < 4; i++ {
		c, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: truncated varint", ErrMalformed)
		}
		v = v<<7 | uint64(c&0x7F)
		if c&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: varint is too long", ErrMalformed)
}

func readVarBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readVarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: length %d past track end", ErrMalformed, n)
	}
	b := make([]byte, n)
	_, _ = io.ReadFull(r, b)
	return b, nil
}

// Timestamp returns absolute time of the event in ticks.
func (e Event) Timestamp() uint64 {
	return e.Time
}

// IsMeta reports if event is a meta event. Meta events are never sent to
// emulators.
func (e Event) IsMeta() bool {
	return e.Status == MetaStatus
}

// IsTempo reports if event is a tempo change.
func (e Event) IsTempo() bool {
	return e.IsMeta() && len(e.Data) >= 4 && e.Data[0] == MetaTempo
}

// TempoUS returns tempo in microseconds per quarter note.
func (e Event) TempoUS() uint64 {
	d := e.Data[1:4]
	return uint64(d[0])<<16 | uint64(d[1])<<8 | uint64(d[2])
}

// IsSystem reports if event is a system event: SysEx or meta.
func (e Event) IsSystem() bool {
	return e.Status >= 0xF0
}

// Channel returns channel of a channel event.
func (e Event) Channel() int {
	return int(e.Status & 0x0F)
}

// Bytes returns event as a MIDI message. SysEx escapes are sent without
// status byte.
func (e Event) Bytes() []byte {
	if e.Status == 0xF7 {
		return e.Data
	}
	return append([]byte{e.Status}, e.Data...)
}

// Merge combines all tracks into one sorted by timestamp. Events with the
// same timestamp are ordered by their in-track position, ties between
// tracks keep track order. Deltas are recomputed.
func (f *File) Merge() Track {
	var merged Track
	for _, t := range f.Tracks {
		merged.Events = append(merged.Events, t.Events...)
	}
	sort.SliceStable(merged.Events, func(i, j int) bool {
		a, b := merged.Events[i], merged.Events[j]
		if a.Time == b.Time {
			return a.Seq < b.Seq
		}
		return a.Time < b.Time
	})
	merged.SetDeltas()
	return merged
}

// SetDeltas recomputes delta times from timestamps. The first event keeps
// its timestamp as delta.
func (t *Track) SetDeltas() {
	var prev uint64
	for i := range t.Events {
		t.Events[i].DeltaTime = t.Events[i].Time - prev
		prev = t.Events[i].Time
	}
}
