package app

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/petems/obridge/internal/device"
	"github.com/petems/obridge/internal/worker"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Instance is one managed device and its initialized worker.
type Instance struct {
	ID     uuid.UUID
	Index  int
	Device device.Device
	Worker worker.Worker
}

// Registry is the fixed set of instances of one run. It is never modified
// after Build, so it can be traversed from any goroutine without locking.
type Registry struct {
	instances []*Instance

	spawned atomic.Bool
	wg      sync.WaitGroup
}

// Len returns the number of instances. A nil registry is empty.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.instances)
}

// Each calls fn for every instance in enumeration order.
func (r *Registry) Each(fn func(*Instance)) {
	if r == nil {
		return
	}
	for _, inst := range r.instances {
		fn(inst)
	}
}

// RequestExit asks every worker to stop.
func (r *Registry) RequestExit() {
	r.Each(func(inst *Instance) { inst.Worker.RequestExit() })
}

// ReportStatus asks every worker to report its state.
func (r *Registry) ReportStatus() {
	r.Each(func(inst *Instance) { inst.Worker.ReportStatus() })
}

// Spawn starts one goroutine per instance, each running its worker once.
// Workers lock their goroutine to an OS thread. Spawn only has an effect the
// first time it is called.
func (r *Registry) Spawn(log zerolog.Logger) {
	if r == nil || !r.spawned.CompareAndSwap(false, true) {
		return
	}

	for _, inst := range r.instances {
		r.wg.Add(1)
		go func(inst *Instance) {
			defer r.wg.Done()
			inst.Worker.Run()
		}(inst)

		log.Info().
			Str("instance", inst.ID.String()).
			Int("index", inst.Index).
			Stringer("device", inst.Device).
			Msg("Instance started")
	}
}

// Join blocks until every spawned worker has returned. There is no timeout:
// a worker that never returns blocks Join forever.
func (r *Registry) Join() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// Skipped records a device whose worker failed to initialize.
type Skipped struct {
	Index  int
	Device device.Device
	Err    error
}

// Builder accumulates the instances whose workers initialize successfully.
type Builder struct {
	newWorker worker.Factory
	template  worker.Params
	log       zerolog.Logger

	instances []*Instance
	skipped   []Skipped
	err       error
}

// NewBuilder creates a builder producing workers from template, with the
// device identity filled in per instance.
func NewBuilder(newWorker worker.Factory, template worker.Params, log zerolog.Logger) *Builder {
	return &Builder{
		newWorker: newWorker,
		template:  template,
		log:       log,
	}
}

// Add creates and initializes the worker for the device found at index. A
// failed initialization is recorded as skipped and returned.
func (b *Builder) Add(index int, d device.Device) error {
	p := b.template
	p.Bus = d.Bus
	p.Address = d.Address
	p.Name = d.Name
	onEnd := p.OnEnd
	p.OnEnd = func() {
		b.log.Debug().Int("index", index).Str("device", d.Name).Msg("Worker returned")
		if onEnd != nil {
			onEnd()
		}
	}

	w := b.newWorker(p)
	if err := w.Initialize(); err != nil {
		err = fmt.Errorf("device %d (%s): %w", index, d.Name, err)
		b.skipped = append(b.skipped, Skipped{Index: index, Device: d, Err: err})
		b.err = multierr.Append(b.err, err)
		b.log.Debug().Err(err).Int("index", index).Msg("Worker initialization failed")
		return err
	}

	b.instances = append(b.instances, &Instance{
		ID:     uuid.New(),
		Index:  index,
		Device: d,
		Worker: w,
	})
	return nil
}

// Build returns the registry of initialized instances, the skipped devices
// and the combined initialization errors, if any. The builder must not be
// used afterwards.
func (b *Builder) Build() (*Registry, []Skipped, error) {
	reg := &Registry{instances: b.instances}
	b.instances = nil
	return reg, b.skipped, b.err
}
