package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petems/obridge/internal/audio"
	"github.com/petems/obridge/internal/device"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	checkErr atomic.Value
	closed   atomic.Int32
}

func (h *fakeHandle) Device() device.Device { return device.Device{Name: "Digitakt"} }

func (h *fakeHandle) Check() error {
	if err, ok := h.checkErr.Load().(error); ok {
		return err
	}
	return nil
}

func (h *fakeHandle) Close() error {
	h.closed.Add(1)
	return nil
}

type fakeOpener struct {
	handle *fakeHandle
	err    error
}

func (o *fakeOpener) Open(bus, address uint8) (device.Handle, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.handle, nil
}

type fakeHost struct {
	rate      float64
	outputErr error
	closed    atomic.Int32
}

func (h *fakeHost) DefaultOutput() (audio.Endpoint, error) {
	if h.outputErr != nil {
		return audio.Endpoint{}, h.outputErr
	}
	return audio.Endpoint{Name: "default", SampleRate: h.rate, OutputChannels: 2, Default: true}, nil
}

func (h *fakeHost) Endpoints() ([]audio.Endpoint, error) { return nil, nil }

func (h *fakeHost) Close() error {
	h.closed.Add(1)
	return nil
}

func init() {
	setPriority = func(int) (func() error, error) {
		return func() error { return nil }, nil
	}
}

// stubPriority replaces setPriority for one test and records the calls made
// to it and to the restore function it hands out.
func stubPriority(t *testing.T, setErr error) *[]string {
	t.Helper()
	var mu sync.Mutex
	calls := []string{}
	record := func(c string) {
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
	}

	prev := setPriority
	t.Cleanup(func() { setPriority = prev })
	setPriority = func(p int) (func() error, error) {
		record("set")
		if setErr != nil {
			return nil, setErr
		}
		return func() error {
			record("restore")
			return nil
		}, nil
	}
	return &calls
}

func testParams() Params {
	return Params{
		Bus:               1,
		Address:           4,
		Name:              "Digitakt",
		BlocksPerTransfer: 24,
		Quality:           QualitySincFastest,
		Priority:          PriorityUnset,
	}
}

func newTestWorker(t *testing.T, p Params) (*usbWorker, *fakeHandle, *fakeHost) {
	t.Helper()
	handle := &fakeHandle{}
	host := &fakeHost{rate: 44100}
	w := New(p, &fakeOpener{handle: handle}, host, zerolog.Nop()).(*usbWorker)
	w.checkInterval = 5 * time.Millisecond
	return w, handle, host
}

func runAsync(w Worker) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestInitializeOpenFailure(t *testing.T) {
	host := &fakeHost{rate: 44100}
	w := New(testParams(), &fakeOpener{err: errors.New("busy")}, host, zerolog.Nop())

	err := w.Initialize()
	assert.ErrorIs(t, err, ErrDeviceOpen)
	assert.Zero(t, host.closed.Load())
}

func TestInitializeDefaultOutputFailureReleasesDevice(t *testing.T) {
	handle := &fakeHandle{}
	host := &fakeHost{outputErr: errors.New("no output")}
	w := New(testParams(), &fakeOpener{handle: handle}, host, zerolog.Nop())

	assert.ErrorIs(t, w.Initialize(), ErrHostAudio)
	assert.Equal(t, int32(1), handle.closed.Load())
	assert.Zero(t, host.closed.Load(), "the shared host belongs to the caller")
}

func TestWorkersShareOneHost(t *testing.T) {
	host := &fakeHost{rate: 44100}
	factory := NewFactory(&fakeOpener{handle: &fakeHandle{}}, host, zerolog.Nop())

	var dones []<-chan struct{}
	var workers []Worker
	for i := 0; i < 3; i++ {
		w := factory(testParams())
		require.NoError(t, w.Initialize())
		workers = append(workers, w)
		dones = append(dones, runAsync(w))
	}
	for _, w := range workers {
		w.RequestExit()
	}
	for _, done := range dones {
		waitDone(t, done)
	}

	assert.Zero(t, host.closed.Load())
}

func TestInitializeTwice(t *testing.T) {
	w, _, _ := newTestWorker(t, testParams())

	require.NoError(t, w.Initialize())
	assert.Equal(t, StatusReady, w.Status())
	assert.ErrorIs(t, w.Initialize(), ErrAlreadyInitialized)
}

func TestRunUntilRequestExit(t *testing.T) {
	var ended atomic.Int32
	p := testParams()
	p.OnEnd = func() { ended.Add(1) }
	w, handle, host := newTestWorker(t, p)
	require.NoError(t, w.Initialize())

	done := runAsync(w)
	assert.Eventually(t, func() bool { return w.Status() == StatusRun }, time.Second, time.Millisecond)

	w.RequestExit()
	w.RequestExit()
	waitDone(t, done)

	assert.Equal(t, StatusStop, w.Status())
	assert.Equal(t, int32(1), handle.closed.Load())
	assert.Zero(t, host.closed.Load())
	assert.Equal(t, int32(1), ended.Load())
}

func TestRunRestoresThreadScheduling(t *testing.T) {
	calls := stubPriority(t, nil)
	w, _, _ := newTestWorker(t, testParams())
	require.NoError(t, w.Initialize())

	done := runAsync(w)
	assert.Eventually(t, func() bool { return w.Status() == StatusRun }, time.Second, time.Millisecond)
	w.RequestExit()
	waitDone(t, done)

	assert.Equal(t, []string{"set", "restore"}, *calls)
}

func TestRunContinuesWithoutPriority(t *testing.T) {
	calls := stubPriority(t, errors.New("operation not permitted"))
	w, _, _ := newTestWorker(t, testParams())
	require.NoError(t, w.Initialize())

	done := runAsync(w)
	assert.Eventually(t, func() bool { return w.Status() == StatusRun }, time.Second, time.Millisecond)
	w.RequestExit()
	waitDone(t, done)

	assert.Equal(t, StatusStop, w.Status())
	assert.Equal(t, []string{"set"}, *calls)
}

func TestRequestExitBeforeRun(t *testing.T) {
	w, handle, _ := newTestWorker(t, testParams())
	require.NoError(t, w.Initialize())

	w.RequestExit()
	waitDone(t, runAsync(w))

	assert.Equal(t, StatusStop, w.Status())
	assert.Equal(t, int32(1), handle.closed.Load())
}

func TestRunOnlyOnce(t *testing.T) {
	w, handle, _ := newTestWorker(t, testParams())
	require.NoError(t, w.Initialize())
	w.RequestExit()

	waitDone(t, runAsync(w))
	waitDone(t, runAsync(w))

	assert.Equal(t, int32(1), handle.closed.Load())
}

func TestRunWithoutInitialize(t *testing.T) {
	var ended atomic.Int32
	p := testParams()
	p.OnEnd = func() { ended.Add(1) }
	w, handle, _ := newTestWorker(t, p)

	waitDone(t, runAsync(w))

	assert.Equal(t, StatusError, w.Status())
	assert.Zero(t, handle.closed.Load())
	assert.Equal(t, int32(1), ended.Load())
}

func TestRunReturnsWhenDeviceIsLost(t *testing.T) {
	w, handle, _ := newTestWorker(t, testParams())
	require.NoError(t, w.Initialize())

	done := runAsync(w)
	handle.checkErr.Store(errors.New("LIBUSB_ERROR_NO_DEVICE"))
	waitDone(t, done)

	assert.Equal(t, StatusError, w.Status())
	assert.Equal(t, int32(1), handle.closed.Load())

	// Calls after Run returned are harmless.
	w.RequestExit()
	w.ReportStatus()
	assert.Equal(t, StatusError, w.Status())
}

func TestReportStatusDoesNotChangeState(t *testing.T) {
	w, _, _ := newTestWorker(t, testParams())

	w.ReportStatus()
	assert.Equal(t, StatusStop, w.Status())

	require.NoError(t, w.Initialize())
	w.ReportStatus()
	assert.Equal(t, StatusReady, w.Status())

	done := runAsync(w)
	assert.Eventually(t, func() bool { return w.Status() == StatusRun }, time.Second, time.Millisecond)
	for i := 0; i < 10; i++ {
		w.ReportStatus()
	}
	assert.Equal(t, StatusRun, w.Status())

	w.RequestExit()
	waitDone(t, done)
}

func TestReporterReceivesPeriodicReports(t *testing.T) {
	var mu sync.Mutex
	var reports []Report

	p := testParams()
	p.ReportPeriod = 5 * time.Millisecond
	p.Reporter = func(r Report) {
		mu.Lock()
		reports = append(reports, r)
		mu.Unlock()
	}
	w, _, _ := newTestWorker(t, p)
	require.NoError(t, w.Initialize())

	done := runAsync(w)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) >= 2
	}, time.Second, time.Millisecond)
	w.RequestExit()
	waitDone(t, done)

	mu.Lock()
	defer mu.Unlock()
	r := reports[0]
	assert.Equal(t, "Digitakt", r.Name)
	assert.Equal(t, 44100.0, r.HostRate)
	assert.Equal(t, DeviceSampleRate, r.DeviceRate)
	assert.InDelta(t, 0.91875, r.Ratio, 1e-9)
	assert.Equal(t, 24, r.Blocks)
	assert.Equal(t, p.TransferLatency(), r.Latency)
}

func TestParams(t *testing.T) {
	p := testParams()
	assert.Equal(t, DefaultPriority, p.EffectivePriority())
	p.Priority = 60
	assert.Equal(t, 60, p.EffectivePriority())

	p.BlocksPerTransfer = 24
	assert.Equal(t, 3500*time.Microsecond, p.TransferLatency())
}

func TestNewAppliesDefaultReportPeriod(t *testing.T) {
	w, _, _ := newTestWorker(t, testParams())
	assert.Equal(t, DefaultReportPeriod, w.params.ReportPeriod)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "sinc-fastest", QualitySincFastest.String())
	assert.Equal(t, "linear", Quality(4).String())
	assert.Equal(t, "quality(9)", Quality(9).String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "run", StatusRun.String())
	assert.False(t, StatusReady.Active())
	assert.True(t, StatusTune.Active())
}
