package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	ffmpegReadSize     = 32 << 10
	ffmpegStartupProbe = 300 * time.Millisecond
	ffmpegStopTimeout  = 3 * time.Second
)

// FFmpegOptions configures the legacy engine.
type FFmpegOptions struct {
	Bin string
	// InputFormat and InputDevice override the platform default capture
	// input (avfoundation on darwin, pulse on linux, dshow on windows).
	InputFormat string
	InputDevice string
	GOOS        string
}

// FFmpegEngine records through an ffmpeg child process that encodes the
// microphone into the negotiated container on stdout. It has no native
// pause: ffmpeg keeps capturing while the session is paused.
type FFmpegEngine struct {
	opts FFmpegOptions
	mime string

	// command builds the child process; tests replace it.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	// probe is how long Start waits for an early exit.
	probe time.Duration

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     *strings.Builder
	sink       Sink
	pending    []byte
	running    bool
	stopping   bool
	readerDone chan struct{}
	stopTicker chan struct{}
	tickerDone chan struct{}
	emitMu     sync.Mutex
}

// Compile-time interface satisfaction check.
var _ Engine = (*FFmpegEngine)(nil)

// NewFFmpegEngine creates a legacy engine producing mime. It fails with
// ErrUnsupported when the ffmpeg binary cannot be found.
func NewFFmpegEngine(opts FFmpegOptions, mime string) (*FFmpegEngine, error) {
	if opts.Bin == "" {
		opts.Bin = "ffmpeg"
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if _, err := exec.LookPath(opts.Bin); err != nil {
		return nil, fmt.Errorf("capture: ffmpeg binary not found: %w", errors.Join(ErrUnsupported, err))
	}
	return &FFmpegEngine{opts: opts, mime: mime, command: exec.CommandContext}, nil
}

func (e *FFmpegEngine) Kind() Kind { return KindLegacy }

func (e *FFmpegEngine) MimeType() string { return e.mime }

func (e *FFmpegEngine) SupportsNativePause() bool { return false }

// inputArgs returns the platform capture input.
func (e *FFmpegEngine) inputArgs() []string {
	format, device := e.opts.InputFormat, e.opts.InputDevice
	if format == "" {
		switch e.opts.GOOS {
		case "darwin", "ios":
			format = "avfoundation"
		case "windows":
			format = "dshow"
		default:
			format = "pulse"
		}
	}
	if device == "" {
		switch format {
		case "avfoundation":
			device = ":default"
		case "dshow":
			device = "audio=default"
		default:
			device = "default"
		}
	}
	return []string{"-f", format, "-i", device}
}

// voiceFilters maps the voice constraints onto ffmpeg audio filters.
func voiceFilters(c Constraints) string {
	var filters []string
	if c.EchoCancellation || c.NoiseSuppression {
		filters = append(filters, "highpass=f=80")
	}
	if c.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if c.AutoGain {
		filters = append(filters, "dynaudnorm")
	}
	return strings.Join(filters, ",")
}

// buildArgs assembles the full ffmpeg command line.
func (e *FFmpegEngine) buildArgs(c Constraints) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	args = append(args, e.inputArgs()...)
	args = append(args, "-vn", "-ac", fmt.Sprint(c.Channels), "-ar", fmt.Sprint(c.SampleRate))
	if f := voiceFilters(c); f != "" {
		args = append(args, "-af", f)
	}
	args = append(args, ffmpegOutput(e.mime)...)
	return append(args, "pipe:1")
}

// Start launches ffmpeg and waits briefly so that an immediate failure
// (denied permission, missing device) is reported synchronously.
func (e *FFmpegEngine) Start(ctx context.Context, c Constraints, sink Sink) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("capture: already recording")
	}
	e.mu.Unlock()

	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.SampleRate == 0 {
		c.SampleRate = 22050
	}
	if c.Timeslice <= 0 {
		c.Timeslice = time.Second
	}

	cmd := e.command(context.WithoutCancel(ctx), e.opts.Bin, e.buildArgs(c)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture: ffmpeg stdout: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("capture: ffmpeg stdin: %w", err)
	}
	stderr := &strings.Builder{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("capture: starting ffmpeg: %w", errors.Join(ErrUnsupported, err))
		}
		return fmt.Errorf("capture: starting ffmpeg: %w", ClassifyDeviceError(err))
	}

	firstData := make(chan struct{})
	readerDone := make(chan struct{})

	e.mu.Lock()
	e.cmd = cmd
	e.stdin = stdin
	e.stderr = stderr
	e.sink = sink
	e.pending = e.pending[:0]
	e.running = true
	e.stopping = false
	e.readerDone = readerDone
	e.stopTicker = make(chan struct{})
	e.tickerDone = make(chan struct{})
	e.mu.Unlock()

	go e.read(stdout, firstData, readerDone)

	select {
	case <-readerDone:
		// ffmpeg exited before producing anything.
		waitErr := cmd.Wait()
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("capture: ffmpeg exited: %w", e.exitError(waitErr))
	case <-firstData:
	case <-time.After(e.startupProbe()):
	}

	go e.tick(c.Timeslice, e.stopTicker, e.tickerDone)
	slog.Debug("[capture] ffmpeg capture started", "mime", e.mime, "args", strings.Join(cmd.Args, " "))
	return nil
}

func (e *FFmpegEngine) startupProbe() time.Duration {
	if e.probe > 0 {
		return e.probe
	}
	return ffmpegStartupProbe
}

// exitError classifies a child exit using its stderr output.
func (e *FFmpegEngine) exitError(waitErr error) error {
	msg := ""
	if e.stderr != nil {
		msg = strings.TrimSpace(e.stderr.String())
	}
	if msg == "" && waitErr == nil {
		return ErrDeviceUnavailable
	}
	if msg == "" {
		return ClassifyDeviceError(waitErr)
	}
	return classifyText(msg, errors.New(msg))
}

// read copies stdout into the pending buffer until EOF.
func (e *FFmpegEngine) read(stdout io.Reader, firstData, done chan struct{}) {
	defer close(done)
	buf := make([]byte, ffmpegReadSize)
	signalled := false
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.pending = append(e.pending, buf[:n]...)
			e.mu.Unlock()
			if !signalled {
				close(firstData)
				signalled = true
			}
		}
		if err != nil {
			e.mu.Lock()
			unexpected := e.running && !e.stopping
			sink := e.sink
			e.mu.Unlock()
			if unexpected && signalled && sink != nil {
				// Child died mid-recording. The wait happens in Stop/Cancel.
				sink.OnError(fmt.Errorf("capture: ffmpeg stopped unexpectedly: %w", ErrDeviceUnavailable))
			}
			return
		}
	}
}

func (e *FFmpegEngine) tick(every time.Duration, stop <-chan struct{}, done chan<- struct{}) {
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

// Pause is not supported natively; the hybrid recorder keeps pause as a
// timer-only state for this engine.
func (e *FFmpegEngine) Pause() error { return ErrPauseUnsupported }

// Resume is the counterpart of Pause.
func (e *FFmpegEngine) Resume() error { return ErrPauseUnsupported }

// RequestData emits buffered stdout bytes as a chunk.
func (e *FFmpegEngine) RequestData() error {
	e.flush()
	return nil
}

// Stop asks ffmpeg to finish the container, waits for the tail and emits it.
func (e *FFmpegEngine) Stop() error {
	cmd, stdin, readerDone, ok := e.beginStop()
	if !ok {
		return nil
	}

	// "q" on stdin makes ffmpeg flush the muxer and exit cleanly.
	_, _ = io.WriteString(stdin, "q")
	_ = stdin.Close()

	select {
	case <-readerDone:
	case <-time.After(ffmpegStopTimeout):
		slog.Warn("[capture] ffmpeg did not exit in time, killing")
		_ = cmd.Process.Kill()
		<-readerDone
	}
	_ = cmd.Wait()

	e.endStop()
	e.flush()
	return nil
}

// Cancel kills ffmpeg and drops buffered output.
func (e *FFmpegEngine) Cancel() error {
	cmd, stdin, readerDone, ok := e.beginStop()
	if !ok {
		return nil
	}
	_ = stdin.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-readerDone
	_ = cmd.Wait()

	e.endStop()
	e.mu.Lock()
	e.pending = e.pending[:0]
	e.mu.Unlock()
	return nil
}

func (e *FFmpegEngine) beginStop() (*exec.Cmd, io.WriteCloser, chan struct{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.stopping {
		return nil, nil, nil, false
	}
	e.stopping = true
	return e.cmd, e.stdin, e.readerDone, true
}

func (e *FFmpegEngine) endStop() {
	e.mu.Lock()
	stop, done := e.stopTicker, e.tickerDone
	e.running = false
	e.stopping = false
	e.cmd = nil
	e.stdin = nil
	e.mu.Unlock()

	close(stop)
	<-done
}

// Finalize returns the encoded stream unchanged; ffmpeg already muxed it.
func (e *FFmpegEngine) Finalize(data []byte) ([]byte, error) {
	return data, nil
}

// Close cancels any running capture.
func (e *FFmpegEngine) Close() error {
	return e.Cancel()
}

func (e *FFmpegEngine) flush() {
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
