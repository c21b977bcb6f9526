// Package output defines audio output backends and the mixing core they
// share. A backend consumes rings of running instances from its device
// thread and mixes them into device buffers.
package output

import (
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dudk/emustream/ring"
	"github.com/dudk/emustream/signal"
)

// MaxSources is the maximum number of sources of a single backend.
const MaxSources = 16

var (
	// ErrTooManySources is returned when more than MaxSources are added.
	ErrTooManySources = errors.New("too many sources")
	// ErrUnsupportedFormat is returned when a device can't play the format.
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrFormatMismatch is returned when a source format differs from the
	// backend format.
	ErrFormatMismatch = errors.New("source format doesn't match output format")
	// ErrNotCreated is returned when backend is used before Create.
	ErrNotCreated = errors.New("output is not created")
)

type (
	// Params configures an output device.
	Params struct {
		// Device is a device name or index. Empty selects default device.
		Device string
		// BufferSize is the size of device buffer in frames.
		BufferSize int
		// BufferCount is the number of device buffers.
		BufferCount int
		Format      signal.Format
		// Frequency is the device sample rate. Zero means the device
		// default where the driver supports it.
		Frequency int
	}

	// Source is a ring consumed by a backend.
	Source interface {
		View() *ring.View
		Format() signal.Format
		PageSize() int
		Frequency() int
	}

	// Backend is an audio output. Sources are added after Create and
	// before Start, from the owning goroutine.
	Backend interface {
		Create(Params) error
		AddSource(Source) error
		Start() error
		Stop() error
		Destroy() error
		Frequency() int
		Format() signal.Format
		BufferSize() int
	}

	// Resettable is a backend that can recreate its device in place.
	Resettable interface {
		Backend
		RequestReset()
		ResetRequested() bool
		Reset() error
	}

	// DeviceInfo describes an output device.
	DeviceInfo struct {
		Index int
		Name  string
	}
)

// Pick returns index of device that matches the query. Name match takes
// precedence over index. It returns -1 if the query is empty or nothing
// matches, which means the default device.
func Pick(devices []DeviceInfo, query string) int {
	query = strings.TrimSpace(query)
	if query == "" {
		return -1
	}
	for i, d := range devices {
		if d.Name == query {
			return i
		}
	}
	if n, err := strconv.Atoi(query); err == nil {
		for i, d := range devices {
			if d.Index == n {
				return i
			}
		}
	}
	return -1
}

// ResetFlag records device reset requests. Requests can be raised from any
// goroutine, the owner polls and performs the reset.
type ResetFlag struct {
	requested atomic.Bool
}

// RequestReset raises the flag.
func (f *ResetFlag) RequestReset() {
	f.requested.Store(true)
}

// ResetRequested reports if reset was requested.
func (f *ResetFlag) ResetRequested() bool {
	return f.requested.Load()
}

// ClearReset clears the flag.
func (f *ResetFlag) ClearReset() {
	f.requested.Store(false)
}

// Restart stops and destroys the device of backend and creates it again
// with the same params. Sources survive only if Destroy of the backend keeps
// them, as oto and malgo do.
func Restart(b Backend, f *ResetFlag, p Params) error {
	f.ClearReset()
	if err := b.Stop(); err != nil {
		return err
	}
	if err := b.Destroy(); err != nil {
		return err
	}
	if err := b.Create(p); err != nil {
		return err
	}
	return b.Start()
}
