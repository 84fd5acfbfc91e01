package worker

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/obridge/internal/audio"
	"github.com/petems/obridge/internal/device"
	"github.com/rs/zerolog"
)

const defaultCheckInterval = time.Second

// Opener opens a device by transport identity.
type Opener interface {
	Open(bus, address uint8) (device.Handle, error)
}

type usbWorker struct {
	params  Params
	opener Opener
	host   audio.Host
	log    zerolog.Logger

	checkInterval time.Duration

	// Set by Initialize before the worker is shared.
	handle   device.Handle
	hostRate float64

	initialized atomic.Bool
	started     atomic.Bool
	status      atomic.Int32
	startedAt   atomic.Int64

	exit      chan struct{}
	exitOnce  sync.Once
	statusReq chan struct{}
}

// New creates a worker bridging the device described by p to the output of
// host. The host is shared by every worker and owned by the caller.
func New(p Params, opener Opener, host audio.Host, log zerolog.Logger) Worker {
	if p.ReportPeriod <= 0 {
		p.ReportPeriod = DefaultReportPeriod
	}

	w := &usbWorker{
		params:        p,
		opener:        opener,
		host:          host,
		checkInterval: defaultCheckInterval,
		exit:          make(chan struct{}),
		statusReq:     make(chan struct{}, 1),
		log: log.With().
			Str("device", p.Name).
			Uint8("bus", p.Bus).
			Uint8("address", p.Address).
			Logger(),
	}
	w.status.Store(int32(StatusStop))
	return w
}

// NewFactory returns a Factory producing USB workers.
func NewFactory(opener Opener, host audio.Host, log zerolog.Logger) Factory {
	return func(p Params) Worker {
		return New(p, opener, host, log)
	}
}

func (w *usbWorker) Initialize() error {
	if w.initialized.Load() {
		return ErrAlreadyInitialized
	}

	handle, err := w.opener.Open(w.params.Bus, w.params.Address)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrDeviceOpen, w.params.Name, err)
	}

	out, err := w.host.DefaultOutput()
	if err != nil {
		handle.Close()
		return fmt.Errorf("%w: %w", ErrHostAudio, err)
	}

	w.handle = handle
	w.hostRate = out.SampleRate
	w.initialized.Store(true)
	w.setStatus(StatusReady)

	w.log.Debug().
		Str("host_output", out.Name).
		Float64("host_rate", out.SampleRate).
		Int("blocks", w.params.BlocksPerTransfer).
		Stringer("quality", w.params.Quality).
		Msg("Worker initialized")
	return nil
}

func (w *usbWorker) Run() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if w.params.OnEnd != nil {
		defer w.params.OnEnd()
	}

	if !w.initialized.Load() {
		w.log.Error().Err(ErrNotInitialized).Msg("Worker not started")
		w.setStatus(StatusError)
		return
	}
	defer w.release()

	runtime.LockOSThread()

	priority := w.params.EffectivePriority()
	restore, err := setPriority(priority)
	if err != nil {
		w.log.Warn().Err(err).Int("priority", priority).Msg("Could not set real-time priority")
		defer runtime.UnlockOSThread()
	} else {
		defer func() {
			// A thread still running real-time stays locked so the runtime
			// discards it when this goroutine exits.
			if err := restore(); err != nil {
				w.log.Warn().Err(err).Msg("Could not restore thread scheduling")
				return
			}
			runtime.UnlockOSThread()
		}()
	}

	select {
	case <-w.exit:
		w.setStatus(StatusStop)
		return
	default:
	}

	w.startedAt.Store(time.Now().UnixNano())
	w.setStatus(StatusBoot)
	w.log.Info().Msg("Worker running")

	check := time.NewTicker(w.checkInterval)
	defer check.Stop()

	var reports <-chan time.Time
	if w.params.Reporter != nil {
		ticker := time.NewTicker(w.params.ReportPeriod)
		defer ticker.Stop()
		reports = ticker.C
	}

	for {
		select {
		case <-w.exit:
			w.setStatus(StatusStop)
			w.log.Info().Msg("Worker exiting")
			return
		case <-w.statusReq:
			w.logStatus()
		case <-reports:
			w.params.Reporter(w.snapshot())
		case <-check.C:
			if err := w.handle.Check(); err != nil {
				w.setStatus(StatusError)
				w.log.Error().Err(err).Msg("Device lost")
				return
			}
			switch w.Status() {
			case StatusBoot:
				w.setStatus(StatusTune)
			case StatusTune:
				w.setStatus(StatusRun)
			}
		}
	}
}

func (w *usbWorker) RequestExit() {
	w.exitOnce.Do(func() {
		close(w.exit)
	})
}

func (w *usbWorker) ReportStatus() {
	if !w.Status().Active() {
		w.logStatus()
		return
	}
	select {
	case w.statusReq <- struct{}{}:
	default:
	}
}

// Status returns the current lifecycle state.
func (w *usbWorker) Status() Status {
	return Status(w.status.Load())
}

func (w *usbWorker) setStatus(s Status) {
	old := Status(w.status.Swap(int32(s)))
	if old != s {
		w.log.Trace().Stringer("from", old).Stringer("to", s).Msg("Status changed")
	}
}

func (w *usbWorker) snapshot() Report {
	r := Report{
		Name:       w.params.Name,
		Status:     w.Status(),
		Quality:    w.params.Quality,
		Blocks:     w.params.BlocksPerTransfer,
		HostRate:   w.hostRate,
		DeviceRate: DeviceSampleRate,
		Ratio:      audio.Ratio(w.hostRate, DeviceSampleRate),
		Latency:    w.params.TransferLatency(),
	}
	if started := w.startedAt.Load(); started != 0 && r.Status.Active() {
		r.Uptime = time.Since(time.Unix(0, started))
	}
	return r
}

func (w *usbWorker) logStatus() {
	r := w.snapshot()
	w.log.Info().
		Stringer("status", r.Status).
		Stringer("quality", r.Quality).
		Int("blocks", r.Blocks).
		Float64("host_rate", r.HostRate).
		Float64("device_rate", r.DeviceRate).
		Float64("ratio", r.Ratio).
		Dur("latency", r.Latency).
		Dur("uptime", r.Uptime).
		Msg("Status")
}

func (w *usbWorker) release() {
	if err := w.handle.Close(); err != nil {
		w.log.Debug().Err(err).Msg("Device close failed")
	}
}
