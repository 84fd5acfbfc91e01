// Package worker defines the contract between the orchestrator and the
// per-device workers, and provides the USB-backed implementation.
//
// A Worker is created with an immutable Params value, initialized once on the
// orchestrator goroutine, then run once on its own OS thread. RequestExit and
// ReportStatus may be called from any goroutine at any time, including before
// Run starts and after it returns.
package worker

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DeviceSampleRate is the fixed rate of the device side of the bridge.
	DeviceSampleRate = 48000.0

	// FramesPerBlock is the number of frames carried by one transfer block.
	FramesPerBlock = 7

	// PriorityUnset selects DefaultPriority.
	PriorityUnset = -1

	// DefaultPriority is the real-time priority used when none is configured.
	DefaultPriority = 20

	DefaultReportPeriod = 2 * time.Second
)

var (
	ErrDeviceOpen         = errors.New("failed to open device")
	ErrHostAudio          = errors.New("host audio output unavailable")
	ErrAlreadyInitialized = errors.New("worker already initialized")
	ErrNotInitialized     = errors.New("worker not initialized")
)

// Quality is the resampling quality level, from best to cheapest.
type Quality int

const (
	QualitySincBest Quality = iota
	QualitySincMedium
	QualitySincFastest
	QualityZeroOrderHold
	QualityLinear
)

func (q Quality) String() string {
	switch q {
	case QualitySincBest:
		return "sinc-best"
	case QualitySincMedium:
		return "sinc-medium"
	case QualitySincFastest:
		return "sinc-fastest"
	case QualityZeroOrderHold:
		return "zero-order-hold"
	case QualityLinear:
		return "linear"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// Status is the lifecycle state of a worker.
type Status int32

const (
	StatusError Status = iota - 1
	StatusStop
	StatusReady
	StatusBoot
	StatusTune
	StatusRun
)

func (s Status) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusStop:
		return "stop"
	case StatusReady:
		return "ready"
	case StatusBoot:
		return "boot"
	case StatusTune:
		return "tune"
	case StatusRun:
		return "run"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Active reports whether a worker in this state is inside Run.
func (s Status) Active() bool {
	return s == StatusBoot || s == StatusTune || s == StatusRun
}

// Report is a point-in-time view of a worker.
type Report struct {
	Name       string
	Status     Status
	Quality    Quality
	Blocks     int
	HostRate   float64
	DeviceRate float64
	Ratio      float64
	Latency    time.Duration
	Uptime     time.Duration
}

// Params is the fixed configuration of one worker.
type Params struct {
	Bus               uint8
	Address           uint8
	Name              string
	BlocksPerTransfer int
	Quality           Quality
	Priority          int
	ReportPeriod      time.Duration

	// Reporter, if set, receives a Report every ReportPeriod from the worker
	// thread.
	Reporter func(Report)

	// OnEnd, if set, is called from the worker thread when Run returns.
	OnEnd func()
}

// TransferLatency is the audio held by one USB transfer.
func (p Params) TransferLatency() time.Duration {
	frames := time.Duration(p.BlocksPerTransfer * FramesPerBlock)
	return frames * time.Second / time.Duration(DeviceSampleRate)
}

// EffectivePriority resolves PriorityUnset to DefaultPriority.
func (p Params) EffectivePriority() int {
	if p.Priority == PriorityUnset {
		return DefaultPriority
	}
	return p.Priority
}

// Worker is one device worker.
type Worker interface {
	// Initialize acquires the device and host resources. On failure the
	// worker holds nothing and must not be run.
	Initialize() error

	// Run blocks until RequestExit is called or the device fails, then
	// releases every resource. Only the first call has any effect.
	Run()

	// RequestExit asks Run to return. It is idempotent and never blocks.
	RequestExit()

	// ReportStatus logs the current state. It never blocks and never changes
	// the state.
	ReportStatus()
}

// Factory builds a worker for one device.
type Factory func(Params) Worker
