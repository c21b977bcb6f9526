package instance

import (
	"fmt"

	"github.com/dudk/emustream"
	"github.com/dudk/emustream/midi"
)

// ErrPoolFull is returned when more than emustream.MaxInstances are added.
var ErrPoolFull = fmt.Errorf("instance pool is limited to %d instances", emustream.MaxInstances)

// Pool is a bounded set of instances started and stopped together. It's
// used from the owning goroutine only.
type Pool struct {
	instances []*Instance
}

// Add appends instance to the pool.
func (p *Pool) Add(i *Instance) error {
	if len(p.instances) >= emustream.MaxInstances {
		return ErrPoolFull
	}
	p.instances = append(p.instances, i)
	return nil
}

// Len returns number of instances.
func (p *Pool) Len() int {
	return len(p.instances)
}

// Instances returns instances in the order they were added.
func (p *Pool) Instances() []*Instance {
	return p.instances
}

// Targets returns instances as midi targets for routing.
func (p *Pool) Targets() []midi.Target {
	targets := make([]midi.Target, len(p.instances))
	for n, i := range p.instances {
		targets[n] = i
	}
	return targets
}

// PostSystemReset enqueues system reset for every instance.
func (p *Pool) PostSystemReset(r emustream.SystemReset) {
	for _, i := range p.instances {
		i.PostSystemReset(r)
	}
}

// Start starts all instances. If any fails, started ones are stopped.
func (p *Pool) Start() error {
	for n, i := range p.instances {
		if err := i.Start(); err != nil {
			for _, started := range p.instances[:n] {
				_ = started.Stop()
			}
			return err
		}
	}
	return nil
}

// Stop stops all running instances.
func (p *Pool) Stop() error {
	var errs emustream.Errors
	for _, i := range p.instances {
		if i.Running() {
			errs.Add(i.Stop())
		}
	}
	return errs.Ret()
}

// Close releases rings of all instances.
func (p *Pool) Close() error {
	var errs emustream.Errors
	for _, i := range p.instances {
		errs.Add(i.Close())
	}
	return errs.Ret()
}
