package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/petems/obridge/internal/config"
	"github.com/petems/obridge/internal/device"
	"github.com/petems/obridge/internal/worker"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// ErrAlreadyRunning is returned when a second registry is started on the same
// dispatcher.
var ErrAlreadyRunning = errors.New("instances already running")

// Enumerator is the device discovery the orchestrator depends on.
type Enumerator interface {
	Devices() ([]device.Device, error)
	Resolve(sel device.Selector) (device.Device, error)
	Print(w io.Writer) error
}

type Config struct {
	Enumerator Enumerator
	NewWorker  worker.Factory
	Dispatcher *Dispatcher
	Logger     zerolog.Logger
}

// App builds the instances for one invocation, runs them and waits for them.
type App struct {
	enum       Enumerator
	newWorker  worker.Factory
	dispatcher *Dispatcher
	log        zerolog.Logger
}

func New(cfg Config) *App {
	return &App{
		enum:       cfg.Enumerator,
		newWorker:  cfg.NewWorker,
		dispatcher: cfg.Dispatcher,
		log:        cfg.Logger,
	}
}

// List prints the present devices. No instance is created.
func (a *App) List(w io.Writer) error {
	return a.enum.Print(w)
}

// Run manages either the selected device or every present device until all
// workers have returned.
//
// In single-device mode any resolution or initialization failure is returned.
// In fleet mode only an enumeration failure is; devices whose worker fails to
// initialize are skipped.
func (a *App) Run(opts *config.Options) error {
	template := WorkerParams(opts)

	switch opts.Selection {
	case config.SelectByIndex:
		return a.runSingle(device.Selector{Index: opts.DeviceIndex}, template)
	case config.SelectByName:
		return a.runSingle(device.Selector{Name: opts.DeviceName, ByName: true}, template)
	default:
		return a.runAll(template)
	}
}

func (a *App) runSingle(sel device.Selector, template worker.Params) error {
	d, err := a.enum.Resolve(sel)
	if err != nil {
		return fmt.Errorf("failed to resolve device %s: %w", sel, err)
	}

	index := sel.Index
	if sel.ByName {
		index = 0
	}

	b := NewBuilder(a.newWorker, template, a.log)
	if err := b.Add(index, d); err != nil {
		return err
	}

	reg, _, _ := b.Build()
	return a.serve(reg)
}

func (a *App) runAll(template worker.Params) error {
	devices, err := a.enum.Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		a.log.Warn().Msg("No devices found")
	}

	b := NewBuilder(a.newWorker, template, a.log)
	for i, d := range devices {
		b.Add(i, d)
	}

	reg, skipped, err := b.Build()
	for _, sk := range skipped {
		a.log.Warn().Err(sk.Err).Int("index", sk.Index).Msg("Skipping device")
	}
	if err != nil {
		a.log.Debug().
			Int("skipped", len(skipped)).
			Int("failures", len(multierr.Errors(err))).
			Int("running", reg.Len()).
			Msg("Some devices could not be initialized")
	}

	return a.serve(reg)
}

// serve publishes reg to the dispatcher, spawns the workers and joins them.
// The registry is published before spawning so that a termination signal
// received mid-spawn reaches every instance; spawning still runs to
// completion and the affected workers return right away.
func (a *App) serve(reg *Registry) error {
	if a.dispatcher != nil && !a.dispatcher.Publish(reg) {
		return ErrAlreadyRunning
	}

	reg.Spawn(a.log)
	a.log.Debug().Int("instances", reg.Len()).Msg("Waiting for instances")

	reg.Join()
	a.log.Info().Int("instances", reg.Len()).Msg("All instances stopped")
	return nil
}

// WorkerParams builds the worker template shared by every instance.
func WorkerParams(opts *config.Options) worker.Params {
	return worker.Params{
		BlocksPerTransfer: opts.Blocks,
		Quality:           worker.Quality(opts.Quality),
		Priority:          opts.Priority,
		ReportPeriod:      opts.ReportPeriod,
	}
}
