package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/chaz8081/gostt-notes/internal/audio"
)

// recordingSink collects chunks and errors.
type recordingSink struct {
	mu     sync.Mutex
	chunks [][]byte
	errs   []error
}

func (s *recordingSink) OnChunk(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, data)
}

func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) joined() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.chunks, nil)
}

func (s *recordingSink) failures() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// fakeDevice records lifecycle calls. Like miniaudio it fires the stop
// callback whenever the device stops.
type fakeDevice struct {
	mu       sync.Mutex
	started  int
	stopped  int
	uninit   bool
	startErr error
	onStop   func()
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started++
	return d.startErr
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	d.stopped++
	onStop := d.onStop
	d.mu.Unlock()
	if onStop != nil {
		onStop()
	}
	return nil
}

func (d *fakeDevice) Uninit() {
	d.mu.Lock()
	d.uninit = true
	onStop := d.onStop
	d.mu.Unlock()
	if onStop != nil {
		onStop()
	}
}

// unplug stops the device behind the engine's back.
func (d *fakeDevice) unplug() {
	d.mu.Lock()
	onStop := d.onStop
	d.mu.Unlock()
	onStop()
}

func newFakeMalgo(dev *fakeDevice, openErr error) (*MalgoEngine, *func(out, in []byte, frames uint32)) {
	var cb func(out, in []byte, frames uint32)
	e := newMalgoEngineWithOpener(func(cfg malgo.DeviceConfig, callbacks malgo.DeviceCallbacks) (captureDevice, error) {
		if openErr != nil {
			return nil, openErr
		}
		cb = callbacks.Data
		dev.mu.Lock()
		dev.onStop = callbacks.Stop
		dev.mu.Unlock()
		return dev, nil
	})
	return e, &cb
}

func TestMalgoEngineCapturesInOrder(t *testing.T) {
	dev := &fakeDevice{}
	e, cb := newFakeMalgo(dev, nil)
	sink := &recordingSink{}

	c := VoiceConstraints()
	c.Timeslice = time.Hour
	if err := e.Start(context.Background(), c, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	(*cb)(nil, []byte{1, 0, 2, 0}, 2)
	if err := e.RequestData(); err != nil {
		t.Fatalf("RequestData() error = %v", err)
	}
	(*cb)(nil, []byte{3, 0}, 1)

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := sink.joined(); !bytes.Equal(got, []byte{1, 0, 2, 0, 3, 0}) {
		t.Errorf("captured = %v, want frames in order", got)
	}
	if len(sink.chunks) != 2 {
		t.Errorf("chunks = %d, want 2", len(sink.chunks))
	}
	if !dev.uninit {
		t.Error("device should be released on Stop")
	}
	if err := e.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestMalgoEnginePauseDropsFrames(t *testing.T) {
	dev := &fakeDevice{}
	e, cb := newFakeMalgo(dev, nil)
	sink := &recordingSink{}

	c := VoiceConstraints()
	c.Timeslice = time.Hour
	if err := e.Start(context.Background(), c, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	(*cb)(nil, []byte{9, 9}, 1)
	if err := e.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	(*cb)(nil, []byte{1, 0}, 1)
	_ = e.Stop()

	if got := sink.joined(); !bytes.Equal(got, []byte{1, 0}) {
		t.Errorf("captured = %v, want only post-resume frames", got)
	}
	if dev.stopped != 1 || dev.started != 2 {
		t.Errorf("device stop/start = %d/%d, want 1/2", dev.stopped, dev.started)
	}
}

func TestMalgoEngineReportsLostDevice(t *testing.T) {
	dev := &fakeDevice{}
	e, cb := newFakeMalgo(dev, nil)
	sink := &recordingSink{}

	c := VoiceConstraints()
	c.Timeslice = time.Hour
	if err := e.Start(context.Background(), c, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	(*cb)(nil, []byte{1, 0}, 1)

	// Stops the engine causes itself are not failures.
	if err := e.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := e.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if errs := sink.failures(); len(errs) != 0 {
		t.Fatalf("errors after pause/resume = %v, want none", errs)
	}

	dev.unplug()
	deadline := time.Now().Add(time.Second)
	for len(sink.failures()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("lost device not reported")
		}
		time.Sleep(time.Millisecond)
	}
	if errs := sink.failures(); !errors.Is(errs[0], ErrDeviceUnavailable) {
		t.Errorf("OnError got %v, want ErrDeviceUnavailable", errs[0])
	}

	// Audio captured before the loss is still delivered by Stop.
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := sink.joined(); !bytes.Equal(got, []byte{1, 0}) {
		t.Errorf("captured = %v, want frames from before the loss", got)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(sink.failures()); n != 1 {
		t.Errorf("errors = %d, want 1 (Stop must not report)", n)
	}
}

func TestMalgoEngineCancelDropsPending(t *testing.T) {
	dev := &fakeDevice{}
	e, cb := newFakeMalgo(dev, nil)
	sink := &recordingSink{}

	c := VoiceConstraints()
	c.Timeslice = time.Hour
	_ = e.Start(context.Background(), c, sink)
	(*cb)(nil, []byte{1, 0}, 1)
	if err := e.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if len(sink.chunks) != 0 {
		t.Errorf("Cancel should drop pending frames, got %d chunks", len(sink.chunks))
	}
	if !dev.uninit {
		t.Error("device should be released on Cancel")
	}
}

func TestMalgoEngineOpenErrorClassified(t *testing.T) {
	e, _ := newFakeMalgo(nil, errors.New("access denied by system policy"))
	err := e.Start(context.Background(), VoiceConstraints(), &recordingSink{})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Start() error = %v, want ErrPermissionDenied", err)
	}
}

func TestMalgoEngineFinalizeWrapsWAV(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newFakeMalgo(dev, nil)
	c := VoiceConstraints()
	c.SampleRate = 16000
	_ = e.Start(context.Background(), c, &recordingSink{})
	_ = e.Stop()

	pcm := make([]byte, 16000*2) // 1s mono s16
	blob, err := e.Finalize(pcm)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	dur, err := audio.WAVDuration(blob)
	if err != nil {
		t.Fatalf("WAVDuration() error = %v", err)
	}
	if dur < 0.99 || dur > 1.01 {
		t.Errorf("duration = %f, want 1.0", dur)
	}
}

// TestHelperProcess is not a real test. It stands in for ffmpeg when
// GOSTT_HELPER is set.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("GOSTT_HELPER")
	if mode == "" {
		return
	}
	switch mode {
	case "denied":
		fmt.Fprint(os.Stderr, "[avfoundation] Permission denied")
		os.Exit(1)
	case "record":
		os.Stdout.Write([]byte("HEAD"))
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil || (n == 1 && buf[0] == 'q') {
				break
			}
		}
		os.Stdout.Write([]byte("TAIL"))
		os.Exit(0)
	}
	os.Exit(2)
}

func helperCommand(mode string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GOSTT_HELPER="+mode)
		return cmd
	}
}

func newHelperEngine(mode string) *FFmpegEngine {
	return &FFmpegEngine{
		opts:    FFmpegOptions{Bin: "ffmpeg", GOOS: "linux"},
		mime:    MimeWebmOpus,
		command: helperCommand(mode),
	}
}

func TestFFmpegEngineStopKeepsTail(t *testing.T) {
	e := newHelperEngine("record")
	sink := &recordingSink{}

	c := VoiceConstraints()
	c.Timeslice = time.Hour
	if err := e.Start(context.Background(), c, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := string(sink.joined()); got != "HEADTAIL" {
		t.Errorf("captured = %q, want %q", got, "HEADTAIL")
	}
	if len(sink.errs) != 0 {
		t.Errorf("unexpected sink errors: %v", sink.errs)
	}
}

func TestFFmpegEnginePermissionDenied(t *testing.T) {
	e := newHelperEngine("denied")
	e.probe = 10 * time.Second
	err := e.Start(context.Background(), VoiceConstraints(), &recordingSink{})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Start() error = %v, want ErrPermissionDenied", err)
	}
}

func TestFFmpegEngineCancel(t *testing.T) {
	e := newHelperEngine("record")
	sink := &recordingSink{}
	c := VoiceConstraints()
	c.Timeslice = time.Hour
	if err := e.Start(context.Background(), c, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if len(sink.chunks) != 0 {
		t.Errorf("Cancel should drop output, got %q", sink.joined())
	}
	if err := e.Cancel(); err != nil {
		t.Errorf("second Cancel() error = %v", err)
	}
}

func TestFFmpegEngineNoNativePause(t *testing.T) {
	e := newHelperEngine("record")
	if e.SupportsNativePause() {
		t.Error("legacy engine should not claim native pause")
	}
	if !errors.Is(e.Pause(), ErrPauseUnsupported) {
		t.Error("Pause() should return ErrPauseUnsupported")
	}
}

func TestFFmpegBuildArgs(t *testing.T) {
	e := &FFmpegEngine{opts: FFmpegOptions{GOOS: "darwin"}, mime: MimeMP4}
	args := e.buildArgs(VoiceConstraints())
	joined := fmt.Sprint(args)

	for _, want := range []string{"avfoundation", ":default", "22050", "afftdn", "dynaudnorm", "aac", "frag_keyframe+empty_moov", "pipe:1"} {
		if !bytes.Contains([]byte(joined), []byte(want)) {
			t.Errorf("args %v missing %q", args, want)
		}
	}
}
