package app

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Action is what the dispatcher does for a signal.
type Action int

const (
	ActionNone Action = iota
	ActionExit
	ActionStatus
)

func (a Action) String() string {
	switch a {
	case ActionExit:
		return "exit"
	case ActionStatus:
		return "status"
	default:
		return "none"
	}
}

// Classify maps a signal to its broadcast action.
func Classify(sig os.Signal) Action {
	for _, s := range exitSignals {
		if sig == s {
			return ActionExit
		}
	}
	for _, s := range statusSignals {
		if sig == s {
			return ActionStatus
		}
	}
	return ActionNone
}

// Dispatcher turns process signals into calls on every instance of the
// published registry. A status signal received before a registry is
// published is dropped; an exit signal is held and delivered on Publish.
type Dispatcher struct {
	log           zerolog.Logger
	registry      atomic.Pointer[Registry]
	exitRequested atomic.Bool

	signals   chan os.Signal
	done      chan struct{}
	installed atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher. Nothing is received until Install.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		log:     log,
		signals: make(chan os.Signal, 8),
		done:    make(chan struct{}),
	}
}

// Install registers for the exit and status signals and starts dispatching.
func (d *Dispatcher) Install() {
	if !d.installed.CompareAndSwap(false, true) {
		return
	}

	all := append(append([]os.Signal{}, exitSignals...), statusSignals...)
	signal.Notify(d.signals, all...)

	go d.loop()
}

func (d *Dispatcher) loop() {
	for {
		select {
		case sig := <-d.signals:
			d.Dispatch(sig)
		case <-d.done:
			return
		}
	}
}

// Publish makes r the target of every later signal. Only the first call
// succeeds. If an exit signal was already received, every instance of r is
// asked to exit.
func (d *Dispatcher) Publish(r *Registry) bool {
	if !d.registry.CompareAndSwap(nil, r) {
		return false
	}
	// Dispatch sets the flag before loading the registry, so an exit signal
	// is seen either here or there.
	if d.exitRequested.Load() {
		d.log.Debug().Int("instances", r.Len()).Msg("Delivering early exit request")
		r.RequestExit()
	}
	return true
}

// Dispatch performs the action of sig on the published registry.
func (d *Dispatcher) Dispatch(sig os.Signal) Action {
	action := Classify(sig)
	if action == ActionExit {
		d.exitRequested.Store(true)
	}
	reg := d.registry.Load()

	d.log.Debug().
		Stringer("signal", sig).
		Stringer("action", action).
		Int("instances", reg.Len()).
		Msg("Signal received")

	switch action {
	case ActionExit:
		reg.RequestExit()
	case ActionStatus:
		reg.ReportStatus()
	}
	return action
}

// Close stops receiving signals.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		signal.Stop(d.signals)
		close(d.done)
	})
}
