package render

// Event is a time stamped sequence event.
type Event interface {
	// Timestamp is absolute time in ticks.
	Timestamp() uint64
	IsMeta() bool
	IsTempo() bool
	// TempoUS is tempo in microseconds per quarter note, valid for tempo
	// events.
	TempoUS() uint64
	// IsSystem reports events that have no channel: SysEx and meta.
	IsSystem() bool
	Channel() int
	// Bytes returns the MIDI message posted to emulator.
	Bytes() []byte
}

// Scheduled is an event with delta time within its sub-sequence.
type Scheduled struct {
	Event
	Delta uint64
}

// Split distributes time sorted events across n sub-sequences by channel
// modulo n. System events are copied into every sub-sequence. Deltas are
// recomputed per sub-sequence.
func Split(events []Event, n int) [][]Scheduled {
	tracks := make([][]Scheduled, n)
	for _, e := range events {
		if e.IsSystem() {
			for i := range tracks {
				tracks[i] = append(tracks[i], Scheduled{Event: e})
			}
			continue
		}
		i := e.Channel() % n
		tracks[i] = append(tracks[i], Scheduled{Event: e})
	}
	for _, t := range tracks {
		setDeltas(t)
	}
	return tracks
}

func setDeltas(t []Scheduled) {
	var prev uint64
	for i := range t {
		t[i].Delta = t[i].Timestamp() - prev
		prev = t[i].Timestamp()
	}
}

// ticksToUS converts ticks into microseconds.
func ticksToUS(ticks, usPerQN, division uint64) uint64 {
	return ticks * usPerQN / division
}
