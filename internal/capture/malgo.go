package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/chaz8081/gostt-notes/internal/audio"
)

// captureDevice is the subset of *malgo.Device the engine drives.
type captureDevice interface {
	Start() error
	Stop() error
	Uninit()
}

// deviceOpener opens a capture device wired to callbacks.
type deviceOpener func(cfg malgo.DeviceConfig, callbacks malgo.DeviceCallbacks) (captureDevice, error)

// MalgoEngine captures 16-bit PCM from the default microphone through
// miniaudio and stores it as WAV.
type MalgoEngine struct {
	ctx  *malgo.AllocatedContext
	open deviceOpener

	mu          sync.Mutex
	device      captureDevice
	constraints Constraints
	sink        Sink
	pending     []byte
	paused      bool
	running     bool
	starts      int
	stopTicker  chan struct{}
	tickerDone  chan struct{}
	emitMu      sync.Mutex
}

// Compile-time interface satisfaction check.
var _ Engine = (*MalgoEngine)(nil)

// NewMalgoEngine initializes a miniaudio context. Call Close() when done.
func NewMalgoEngine() (*MalgoEngine, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: initializing audio context: %w", err)
	}

	e := &MalgoEngine{ctx: ctx}
	e.open = func(cfg malgo.DeviceConfig, callbacks malgo.DeviceCallbacks) (captureDevice, error) {
		return malgo.InitDevice(ctx.Context, cfg, callbacks)
	}
	return e, nil
}

// newMalgoEngineWithOpener builds an engine around a custom device opener.
func newMalgoEngineWithOpener(open deviceOpener) *MalgoEngine {
	return &MalgoEngine{open: open}
}

func (e *MalgoEngine) Kind() Kind { return KindModern }

func (e *MalgoEngine) MimeType() string { return MimeWAV }

func (e *MalgoEngine) SupportsNativePause() bool { return true }

// Start begins capturing audio from the default microphone.
func (e *MalgoEngine) Start(_ context.Context, c Constraints, sink Sink) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("capture: already recording")
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.Timeslice <= 0 {
		c.Timeslice = time.Second
	}
	e.constraints = c
	e.sink = sink
	e.pending = e.pending[:0]
	e.paused = false
	e.starts++
	start := e.starts
	e.mu.Unlock()

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = c.Channels
	deviceCfg.SampleRate = c.SampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: e.onData,
		Stop: func() { e.onStop(start) },
	}

	device, err := e.open(deviceCfg, callbacks)
	if err != nil {
		return fmt.Errorf("capture: initializing capture device: %w", ClassifyDeviceError(err))
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("capture: starting capture device: %w", ClassifyDeviceError(err))
	}

	e.mu.Lock()
	e.device = device
	e.running = true
	e.stopTicker = make(chan struct{})
	e.tickerDone = make(chan struct{})
	go e.tick(c.Timeslice, e.stopTicker, e.tickerDone)
	e.mu.Unlock()

	slog.Debug("[capture] malgo capture started", "rate", c.SampleRate, "channels", c.Channels)
	return nil
}

// Pause stops the device; no frames are delivered until Resume. The device
// is stopped outside the lock since malgo waits for the data callback.
func (e *MalgoEngine) Pause() error {
	e.mu.Lock()
	if !e.running || e.paused {
		e.mu.Unlock()
		return nil
	}
	e.paused = true
	device := e.device
	e.mu.Unlock()

	if err := device.Stop(); err != nil {
		return fmt.Errorf("capture: pausing device: %w", err)
	}
	return nil
}

// Resume restarts a paused device.
func (e *MalgoEngine) Resume() error {
	e.mu.Lock()
	if !e.running || !e.paused {
		e.mu.Unlock()
		return nil
	}
	device := e.device
	e.mu.Unlock()

	if err := device.Start(); err != nil {
		return fmt.Errorf("capture: resuming device: %w", ClassifyDeviceError(err))
	}

	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	return nil
}

// RequestData emits the buffered frames as a chunk.
func (e *MalgoEngine) RequestData() error {
	e.flush()
	return nil
}

// Stop ends capture, emits the buffered tail and releases the device.
func (e *MalgoEngine) Stop() error {
	if !e.release() {
		return nil
	}
	e.flush()
	return nil
}

// Cancel ends capture and drops buffered frames.
func (e *MalgoEngine) Cancel() error {
	if !e.release() {
		return nil
	}
	e.mu.Lock()
	e.pending = e.pending[:0]
	e.mu.Unlock()
	return nil
}

// release stops the ticker and uninitializes the device. It reports false
// when capture was not running.
func (e *MalgoEngine) release() bool {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return false
	}
	e.running = false
	device := e.device
	e.device = nil
	stop, done := e.stopTicker, e.tickerDone
	e.mu.Unlock()

	close(stop)
	<-done
	if device != nil {
		device.Uninit()
	}
	return true
}

// Finalize wraps raw interleaved PCM into a WAV container.
func (e *MalgoEngine) Finalize(data []byte) ([]byte, error) {
	e.mu.Lock()
	c := e.constraints
	e.mu.Unlock()
	return audio.EncodeWAV(audio.S16LEToInts(data), int(c.SampleRate), int(c.Channels))
}

// Close releases all audio resources.
func (e *MalgoEngine) Close() error {
	_ = e.Cancel()
	if e.ctx != nil {
		if err := e.ctx.Uninit(); err != nil {
			return fmt.Errorf("capture: uninitializing audio context: %w", err)
		}
		e.ctx.Free()
		e.ctx = nil
	}
	return nil
}

// onData is the malgo callback invoked when audio data is available.
// pSample contains the captured frames as interleaved S16 bytes.
func (e *MalgoEngine) onData(_, pSample []byte, frameCount uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.paused {
		return
	}
	n := int(frameCount) * int(e.constraints.Channels) * 2
	if n > len(pSample) {
		n = len(pSample)
	}
	e.pending = append(e.pending, pSample[:n]...)
}

// onStop is the malgo stop callback. Stops caused by Pause or release are
// ignored; any other stop means the device went away mid-recording.
func (e *MalgoEngine) onStop(start int) {
	e.mu.Lock()
	lost := e.running && !e.paused && e.starts == start
	sink := e.sink
	e.mu.Unlock()
	if !lost || sink == nil {
		return
	}
	slog.Warn("[capture] capture device stopped unexpectedly")
	// Off the audio thread, which must not block on the sink.
	go sink.OnError(fmt.Errorf("capture: capture device stopped: %w", ErrDeviceUnavailable))
}

func (e *MalgoEngine) tick(every time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			e.flush()
		case <-stop:
			return
		}
	}
}

// flush hands pending bytes to the sink. emitMu keeps chunks ordered when
// the ticker and an explicit RequestData race.
func (e *MalgoEngine) flush() {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if len(e.pending) == 0 || e.sink == nil {
		e.mu.Unlock()
		return
	}
	chunk := make([]byte, len(e.pending))
	copy(chunk, e.pending)
	e.pending = e.pending[:0]
	sink := e.sink
	e.mu.Unlock()

	sink.OnChunk(chunk)
}
