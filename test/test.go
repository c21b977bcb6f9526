// Package test contains helper functions useful for testing emustream packages.
package test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// Out returns a path for test output in a temporary directory that is
// removed when test completes.
func Out(t testing.TB, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// Division is the time division of generated midi files. Together with
// the tempo event of Sequence it makes one tick equal to a microsecond.
const Division = 96

// Sequence is a format 1 midi track that plays two notes on channels 0
// and 1, one tick is one microsecond.
var Sequence = [][]byte{
	{
		0x00, 0xFF, 0x51, 0x03, 0x00, 0x00, Division, // tempo
		0x00, 0x90, 60, 100,
		0x00, 0x91, 64, 100,
		0x83, 0x60, 0x80, 60, 0, // 480 ticks
		0x83, 0x60, 0x81, 64, 0,
		0x00, 0xFF, 0x2F, 0x00,
	},
}

// SMF encodes tracks into a standard midi file.
func SMF(tracks ...[]byte) []byte {
	var b []byte
	b = append(b, "MThd"...)
	b = binary.BigEndian.AppendUint32(b, 6)
	b = binary.BigEndian.AppendUint16(b, 1)
	b = binary.BigEndian.AppendUint16(b, uint16(len(tracks)))
	b = binary.BigEndian.AppendUint16(b, Division)
	for _, t := range tracks {
		b = append(b, "MTrk"...)
		b = binary.BigEndian.AppendUint32(b, uint32(len(t)))
		b = append(b, t...)
	}
	return b
}

// WriteSMF writes tracks as a midi file into a temporary directory and
// returns its path.
func WriteSMF(t testing.TB, tracks ...[]byte) string {
	t.Helper()
	path := Out(t, "sequence.mid")
	if err := os.WriteFile(path, SMF(tracks...), 0o644); err != nil {
		t.Fatalf("write midi file: %v", err)
	}
	return path
}
