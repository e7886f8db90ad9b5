// Package recorder selects a capture engine at runtime and presents one
// recording contract over it.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/gostt-notes/internal/capture"
	"github.com/chaz8081/gostt-notes/internal/flags"
)

// Status is the recorder lifecycle state.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusReady         Status = "ready"
	StatusRecording     Status = "recording"
	StatusPaused        Status = "paused"
	StatusStopping      Status = "stopping"
	StatusCancelled     Status = "cancelled"
)

var (
	// ErrEmptyCapture means stop produced zero bytes.
	ErrEmptyCapture = errors.New("recording failed: no audio captured")
	// ErrNotInitialized means Initialize has not completed.
	ErrNotInitialized = errors.New("recorder: not initialized")
	// ErrBusy means a recording is already in progress.
	ErrBusy = errors.New("recorder: already recording")
	// ErrNotRecording means there is no recording to act on.
	ErrNotRecording = errors.New("recorder: not recording")
	// ErrCancelled means the recording was cancelled while stopping.
	ErrCancelled = errors.New("recorder: recording cancelled")
)

// DefaultFlushGrace is how long StopRecording waits for the final chunk.
const DefaultFlushGrace = 500 * time.Millisecond

// FlagGate decides whether the modern engine is enabled for a feature.
type FlagGate interface {
	ShouldUseModernEngine(feature flags.Feature) bool
}

// Prober is the subset of capability queries the recorder needs.
type Prober interface {
	SupportsModernEngine(ctx context.Context) bool
	SupportsLegacyEngine() bool
	SupportedMimeTypes(ctx context.Context) []string
	SupportsNativePause(kind capture.Kind) bool
	IsSafari() bool
}

// Options configures a HybridRecorder.
type Options struct {
	Flags          FlagGate
	Prober         Prober
	Constraints    capture.Constraints
	FlushGrace     time.Duration
	MimePreference []string

	// NewModern and NewLegacy build the engines.
	NewModern func() (capture.Engine, error)
	NewLegacy func(mime string) (capture.Engine, error)

	// OnEngineError is called, on its own goroutine, when the engine fails
	// mid-recording. Chunks captured so far are kept for StopRecording.
	OnEngineError func(error)

	// Now is the session clock. Defaults to time.Now.
	Now func() time.Time
}

// Result is a finalized recording.
type Result struct {
	AudioBlob       []byte
	DurationSeconds float64
	MimeType        string
	EngineUsed      capture.Kind
}

// State is a snapshot of the recorder.
type State struct {
	Status              Status
	UsingModernEngine   bool
	EngineUsed          capture.Kind
	MimeType            string
	SupportsNativePause bool
	ElapsedSeconds      float64
	RecordingTime       int
	LastError           error
}

// HybridRecorder drives whichever capture engine Initialize selected.
// The engine is fixed for the recorder's lifetime.
type HybridRecorder struct {
	opts Options

	mu          sync.Mutex
	status      Status
	engine      capture.Engine
	nativePause bool
	session     *Session
	chunks      [][]byte
	gen         int
	lastErr     error
	starting    bool

	// stopping and cancelling are set while a StopRecording or
	// CancelRecording call is still using the engine. A cancelled recorder
	// returns to ready only once both are clear.
	stopping   bool
	cancelling bool
}

// New creates an uninitialized recorder.
func New(opts Options) *HybridRecorder {
	if opts.FlushGrace < 0 {
		opts.FlushGrace = 0
	}
	if opts.Constraints.SampleRate == 0 {
		opts.Constraints = capture.VoiceConstraints()
	}
	return &HybridRecorder{
		opts:    opts,
		status:  StatusUninitialized,
		session: NewSession(opts.Now),
	}
}

// Initialize selects the engine. The modern engine is used when the
// recording flag is on and the prober finds a capture device; any error
// creating it falls back to the legacy engine. Calling Initialize again is
// a no-op.
func (r *HybridRecorder) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusUninitialized {
		return nil
	}

	var engine capture.Engine
	if r.modernAllowed(ctx) && r.opts.NewModern != nil {
		e, err := r.opts.NewModern()
		if err != nil {
			slog.Warn("[recorder] modern engine init failed, falling back to legacy", "error", err)
		} else {
			engine = e
		}
	}

	if engine == nil {
		if r.opts.NewLegacy == nil || (r.opts.Prober != nil && !r.opts.Prober.SupportsLegacyEngine()) {
			return fmt.Errorf("recorder: no capture engine available: %w", capture.ErrUnsupported)
		}
		var supported []string
		apple := false
		if r.opts.Prober != nil {
			supported = r.opts.Prober.SupportedMimeTypes(ctx)
			apple = r.opts.Prober.IsSafari()
		}
		mime := capture.NegotiateMimeType(supported, apple, r.opts.MimePreference)
		e, err := r.opts.NewLegacy(mime)
		if err != nil {
			return fmt.Errorf("recorder: initializing legacy engine: %w", err)
		}
		engine = e
	}

	r.engine = engine
	r.nativePause = engine.SupportsNativePause()
	if r.opts.Prober != nil {
		r.nativePause = r.nativePause && r.opts.Prober.SupportsNativePause(engine.Kind())
	}
	r.status = StatusReady
	slog.Info("[recorder] engine selected", "engine", engine.Kind(), "mime", engine.MimeType(),
		"native_pause", r.nativePause)
	return nil
}

func (r *HybridRecorder) modernAllowed(ctx context.Context) bool {
	if r.opts.Flags != nil && !r.opts.Flags.ShouldUseModernEngine(flags.FeatureRecording) {
		return false
	}
	if r.opts.Prober != nil && !r.opts.Prober.SupportsModernEngine(ctx) {
		return false
	}
	return true
}

// StartRecording opens the microphone and begins capture. Failures are
// capture.ErrPermissionDenied, capture.ErrDeviceUnavailable or
// capture.ErrUnsupported.
func (r *HybridRecorder) StartRecording(ctx context.Context) error {
	r.mu.Lock()
	switch r.status {
	case StatusUninitialized:
		r.mu.Unlock()
		return ErrNotInitialized
	case StatusRecording, StatusPaused, StatusStopping, StatusCancelled:
		r.mu.Unlock()
		return ErrBusy
	}
	if r.starting {
		r.mu.Unlock()
		return ErrBusy
	}
	r.starting = true
	r.gen++
	gen := r.gen
	r.chunks = nil
	r.lastErr = nil
	engine := r.engine
	r.mu.Unlock()

	// The engine may report errors from its own goroutines during Start, so
	// the lock is not held here.
	if err := engine.Start(ctx, r.opts.Constraints, &sessionSink{r: r, gen: gen}); err != nil {
		r.mu.Lock()
		r.lastErr = err
		r.starting = false
		r.mu.Unlock()
		return fmt.Errorf("recorder: starting capture: %w", capture.ClassifyDeviceError(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.starting = false
	r.session.Start()
	r.status = StatusRecording
	slog.Info("[recorder] recording started", "engine", engine.Kind())
	return nil
}

// PauseRecording pauses capture. Without native pause support the engine
// keeps capturing and only the timer stops. Pausing while paused is a no-op.
func (r *HybridRecorder) PauseRecording() error {
	r.mu.Lock()
	if r.status == StatusPaused {
		r.mu.Unlock()
		return nil
	}
	if r.status != StatusRecording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	engine, native := r.engine, r.nativePause
	r.mu.Unlock()

	if native {
		if err := engine.Pause(); err != nil {
			return fmt.Errorf("recorder: pausing: %w", err)
		}
	} else {
		slog.Debug("[recorder] engine has no native pause, capture continues")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.Pause()
	r.status = StatusPaused
	return nil
}

// ResumeRecording resumes a paused recording. Resuming while recording is a
// no-op.
func (r *HybridRecorder) ResumeRecording() error {
	r.mu.Lock()
	if r.status == StatusRecording {
		r.mu.Unlock()
		return nil
	}
	if r.status != StatusPaused {
		r.mu.Unlock()
		return ErrNotRecording
	}
	engine, native := r.engine, r.nativePause
	r.mu.Unlock()

	if native {
		if err := engine.Resume(); err != nil {
			return fmt.Errorf("recorder: resuming: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.Resume()
	r.status = StatusRecording
	return nil
}

// StopRecording requests a final flush, waits the grace window, stops the
// engine and returns the concatenated chunks in capture order. If the
// engine failed mid-recording the chunks captured before the failure are
// still finalized. Zero captured bytes yields ErrEmptyCapture.
func (r *HybridRecorder) StopRecording(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.status != StatusRecording && r.status != StatusPaused {
		r.mu.Unlock()
		return Result{}, ErrNotRecording
	}
	r.status = StatusStopping
	r.stopping = true
	gen := r.gen
	engine := r.engine
	r.mu.Unlock()

	if err := engine.RequestData(); err != nil {
		slog.Warn("[recorder] final flush request failed", "error", err)
	}
	if r.opts.FlushGrace > 0 {
		t := time.NewTimer(r.opts.FlushGrace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	// A cancel during the grace window has already released the engine.
	if r.cancelledSince(gen) {
		return Result{}, ErrCancelled
	}
	// Stop always runs so the microphone is released.
	if err := engine.Stop(); err != nil {
		slog.Warn("[recorder] stopping engine failed", "error", err)
	}

	r.mu.Lock()
	if r.gen != gen {
		r.stopping = false
		r.settle()
		r.mu.Unlock()
		return Result{}, ErrCancelled
	}
	duration := r.session.Finalize()
	data := bytes.Join(r.chunks, nil)
	r.chunks = nil
	r.gen++
	r.status = StatusReady
	r.stopping = false
	r.mu.Unlock()

	if len(data) == 0 {
		return Result{}, ErrEmptyCapture
	}
	blob, err := engine.Finalize(data)
	if err != nil {
		return Result{}, fmt.Errorf("recorder: finalizing audio: %w", err)
	}

	res := Result{
		AudioBlob:       blob,
		DurationSeconds: Seconds(duration),
		MimeType:        engine.MimeType(),
		EngineUsed:      engine.Kind(),
	}
	slog.Info("[recorder] recording stopped", "bytes", len(blob), "duration", res.DurationSeconds, "mime", res.MimeType)
	return res, nil
}

// cancelledSince reports whether recording gen was cancelled while being
// stopped, ending the stop if so.
func (r *HybridRecorder) cancelledSince(gen int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen {
		return false
	}
	r.stopping = false
	r.settle()
	return true
}

// settle returns a cancelled recorder to ready. Callers hold mu.
func (r *HybridRecorder) settle() {
	if r.status == StatusCancelled && !r.stopping && !r.cancelling {
		r.status = StatusReady
	}
}

// CancelRecording stops capture and discards all chunks. It is safe at any
// point after StartRecording, including during the stop grace window, and
// a second call is a no-op.
func (r *HybridRecorder) CancelRecording() error {
	r.mu.Lock()
	switch r.status {
	case StatusRecording, StatusPaused, StatusStopping:
	default:
		r.mu.Unlock()
		return nil
	}
	r.gen++
	r.chunks = nil
	r.status = StatusCancelled
	r.cancelling = true
	engine := r.engine
	r.mu.Unlock()

	err := engine.Cancel()

	r.mu.Lock()
	r.cancelling = false
	r.settle()
	r.mu.Unlock()
	slog.Info("[recorder] recording cancelled")
	if err != nil {
		return fmt.Errorf("recorder: cancelling: %w", err)
	}
	return nil
}

// State returns a snapshot.
func (r *HybridRecorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := State{
		Status:    r.status,
		LastError: r.lastErr,
	}
	if r.engine != nil {
		s.EngineUsed = r.engine.Kind()
		s.UsingModernEngine = s.EngineUsed == capture.KindModern
		s.MimeType = r.engine.MimeType()
		s.SupportsNativePause = r.nativePause
	}
	if r.status == StatusRecording || r.status == StatusPaused || r.status == StatusStopping {
		s.ElapsedSeconds = Seconds(r.session.Elapsed())
		s.RecordingTime = r.session.RecordingTime()
	}
	return s
}

// Close cancels any recording and releases the engine.
func (r *HybridRecorder) Close() error {
	_ = r.CancelRecording()
	r.mu.Lock()
	engine := r.engine
	r.engine = nil
	r.status = StatusUninitialized
	r.mu.Unlock()
	if engine != nil {
		return engine.Close()
	}
	return nil
}

// sessionSink binds engine callbacks to one recording. Callbacks from an
// earlier recording are dropped.
type sessionSink struct {
	r   *HybridRecorder
	gen int
}

func (s *sessionSink) OnChunk(data []byte) {
	if len(data) == 0 {
		return
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.r.gen != s.gen {
		return
	}
	s.r.chunks = append(s.r.chunks, data)
}

func (s *sessionSink) OnError(err error) {
	s.r.mu.Lock()
	if s.r.gen != s.gen {
		s.r.mu.Unlock()
		return
	}
	s.r.lastErr = err
	cb := s.r.opts.OnEngineError
	s.r.mu.Unlock()

	slog.Error("[recorder] capture engine failed", "error", err)
	if cb != nil {
		go cb(err)
	}
}
