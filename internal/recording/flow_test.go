package recording

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/gostt-notes/internal/audio"
	"github.com/chaz8081/gostt-notes/internal/capture"
	"github.com/chaz8081/gostt-notes/internal/models"
	"github.com/chaz8081/gostt-notes/internal/recorder"
	"github.com/chaz8081/gostt-notes/internal/store"
	"github.com/chaz8081/gostt-notes/internal/transcribe"
)

const testRate = 16000

// fakeEngine emits queued PCM chunks when flushed and wraps them as WAV.
type fakeEngine struct {
	startErr error

	// stopGate, when set, holds Stop until closed. stopEntered is
	// signalled first.
	stopGate    chan struct{}
	stopEntered chan struct{}

	mu      sync.Mutex
	sink    capture.Sink
	queued  [][]byte
	running bool
	paused  bool
}

func (e *fakeEngine) Kind() capture.Kind        { return capture.KindModern }
func (e *fakeEngine) MimeType() string          { return capture.MimeWAV }
func (e *fakeEngine) SupportsNativePause() bool { return true }

func (e *fakeEngine) Start(_ context.Context, _ capture.Constraints, sink capture.Sink) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
	e.running = true
	return nil
}

// speak queues seconds of a constant tone.
func (e *fakeEngine) speak(seconds int) {
	for i := 0; i < seconds; i++ {
		chunk := make([]byte, testRate*2)
		for j := 0; j < len(chunk); j += 2 {
			chunk[j], chunk[j+1] = 0x00, 0x10
		}
		e.mu.Lock()
		e.queued = append(e.queued, chunk)
		e.mu.Unlock()
	}
}

func (e *fakeEngine) flush() {
	e.mu.Lock()
	queued, sink := e.queued, e.sink
	e.queued = nil
	e.mu.Unlock()
	for _, c := range queued {
		sink.OnChunk(c)
	}
}

func (e *fakeEngine) crash(err error) {
	e.flush()
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	sink.OnError(err)
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Resume() error {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) RequestData() error {
	e.flush()
	return nil
}

func (e *fakeEngine) Stop() error {
	if e.stopGate != nil {
		e.stopEntered <- struct{}{}
		<-e.stopGate
	}
	e.flush()
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Cancel() error {
	e.mu.Lock()
	e.queued = nil
	e.running = false
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Finalize(data []byte) ([]byte, error) {
	return audio.EncodeWAV(audio.S16LEToInts(data), testRate, 1)
}

func (e *fakeEngine) Close() error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingAudio records every SaveAudio call.
type countingAudio struct {
	*store.DirAudio
	mu    sync.Mutex
	saves int
}

func (a *countingAudio) SaveAudio(ctx context.Context, blob []byte, filename, mime string) (string, error) {
	a.mu.Lock()
	a.saves++
	a.mu.Unlock()
	return a.DirAudio.SaveAudio(ctx, blob, filename, mime)
}

func (a *countingAudio) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

type recordedNotifier struct {
	mu     sync.Mutex
	errors []string
}

func (n *recordedNotifier) Info(string, string) {}

func (n *recordedNotifier) Error(title string, _ error) {
	n.mu.Lock()
	n.errors = append(n.errors, title)
	n.mu.Unlock()
}

func (n *recordedNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errors...)
}

// textBackend "recognizes" a fixed transcript.
type textBackend struct{ text string }

func (b textBackend) Load(context.Context, transcribe.Settings, func(models.Event)) error { return nil }

func (b textBackend) Transcribe(_ context.Context, samples []float32, _ transcribe.Settings, onSegment func(transcribe.Chunk)) ([]transcribe.Chunk, error) {
	c := transcribe.Chunk{Timestamp: [2]float64{0, float64(len(samples)) / audio.ModelSampleRate}, Text: b.text}
	onSegment(c)
	return []transcribe.Chunk{c}, nil
}

func (b textBackend) Close() error { return nil }

type harness struct {
	flow      *Flow
	engine    *fakeEngine
	clock     *fakeClock
	db        *store.DB
	audio     *countingAudio
	coord     *transcribe.Coordinator
	notifier  *recordedNotifier
	navigated chan string
}

func newHarness(t *testing.T, engine *fakeEngine) *harness {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{
		engine:    engine,
		clock:     &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		db:        db,
		audio:     &countingAudio{DirAudio: store.NewDirAudio(t.TempDir())},
		notifier:  &recordedNotifier{},
		navigated: make(chan string, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker := transcribe.NewWorker(textBackend{text: "hello world"})
	h.coord = transcribe.NewCoordinator(transcribe.Options{
		Worker:   worker,
		Notes:    db,
		Audio:    h.audio,
		Decoder:  audio.NewDecoder(""),
		Notifier: h.notifier,
	})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); worker.Run(ctx) }()
	go func() { defer wg.Done(); h.coord.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	rec := recorder.New(recorder.Options{
		NewModern: func() (capture.Engine, error) { return engine, nil },
		OnEngineError: func(err error) {
			h.flow.HandleEngineError(context.Background(), err)
		},
		Now: h.clock.Now,
	})
	h.flow = New(Options{
		Recorder:    rec,
		Audio:       h.audio,
		Notes:       db,
		Decoder:     audio.NewDecoder(""),
		Transcriber: h.coord,
		Notifier:    h.notifier,
		Navigate:    func(id string) { h.navigated <- id },
		Now:         h.clock.Now,
	})
	return h
}

func (h *harness) notes(t *testing.T) []store.Note {
	t.Helper()
	notes, err := h.db.ListNotes(context.Background())
	if err != nil {
		t.Fatalf("ListNotes() error = %v", err)
	}
	return notes
}

func (h *harness) waitTranscript(t *testing.T) transcribe.Job {
	t.Helper()
	job, ok := h.coord.Job()
	if !ok {
		t.Fatal("no transcription job started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := h.coord.Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return job
}

func TestHappyPath(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	ctx := context.Background()

	if err := h.flow.StartRecordingFlow(ctx); err != nil {
		t.Fatalf("StartRecordingFlow() error = %v", err)
	}
	if got := h.flow.Status(); got != StatusRecording {
		t.Fatalf("Status() = %s, want recording", got)
	}
	h.engine.speak(5)
	h.clock.Advance(5 * time.Second)

	note, err := h.flow.StopRecordingFlow(ctx)
	if err != nil {
		t.Fatalf("StopRecordingFlow() error = %v", err)
	}
	if got := h.flow.Status(); got != StatusIdle {
		t.Errorf("Status() after stop = %s, want idle", got)
	}
	if math.Abs(note.Duration-5) > 0.01 {
		t.Errorf("Duration = %v, want 5", note.Duration)
	}
	if note.AudioURL == "" || note.Content != "" || note.Title != transcribe.DefaultTitle {
		t.Errorf("note = %+v", note)
	}
	if len(note.Tags) != 0 || note.Tags == nil {
		t.Errorf("Tags = %#v, want empty", note.Tags)
	}
	select {
	case id := <-h.navigated:
		if id != note.ID {
			t.Errorf("navigated to %q, want %q", id, note.ID)
		}
	default:
		t.Error("navigation callback not invoked")
	}

	blob, mime, err := h.audio.LoadAudio(ctx, note.AudioURL)
	if err != nil {
		t.Fatalf("LoadAudio() error = %v", err)
	}
	if mime != capture.MimeWAV {
		t.Errorf("stored mime = %q", mime)
	}
	if secs, _ := audio.WAVDuration(blob); math.Abs(secs-5) > 0.01 {
		t.Errorf("stored audio is %vs, want 5s", secs)
	}

	job := h.waitTranscript(t)
	if job.NoteID != note.ID || job.FinalText != "hello world" {
		t.Errorf("job = %+v", job)
	}
	saved, err := h.db.GetNoteByID(ctx, note.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Content != "hello world" || saved.Title != "hello world" {
		t.Errorf("note after transcription = %q/%q", saved.Title, saved.Content)
	}
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t, &fakeEngine{startErr: capture.ErrPermissionDenied})

	err := h.flow.StartRecordingFlow(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("StartRecordingFlow() error = %v, want ErrPermissionDenied", err)
	}
	if got := h.flow.Status(); got != StatusIdle {
		t.Errorf("Status() = %s, want idle", got)
	}
	if n := len(h.notes(t)); n != 0 {
		t.Errorf("%d notes created, want 0", n)
	}
	if titles := h.notifier.titles(); len(titles) != 1 || titles[0] != "Microphone access denied" {
		t.Errorf("notifications = %v", titles)
	}
}

func TestCancelDiscards(t *testing.T) {
	for _, paused := range []bool{false, true} {
		name := "recording"
		if paused {
			name = "paused"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, &fakeEngine{})
			if err := h.flow.StartRecordingFlow(context.Background()); err != nil {
				t.Fatal(err)
			}
			h.engine.speak(2)
			if paused {
				if err := h.flow.PauseRecordingFlow(); err != nil {
					t.Fatal(err)
				}
			}
			if err := h.flow.CancelRecordingFlow(); err != nil {
				t.Fatalf("CancelRecordingFlow() error = %v", err)
			}
			if err := h.flow.CancelRecordingFlow(); err != nil {
				t.Errorf("second CancelRecordingFlow() error = %v", err)
			}
			if got := h.flow.Status(); got != StatusIdle {
				t.Errorf("Status() = %s, want idle", got)
			}
			if n := len(h.notes(t)); n != 0 {
				t.Errorf("%d notes created, want 0", n)
			}
			if n := h.audio.count(); n != 0 {
				t.Errorf("%d storage writes, want 0", n)
			}
			if _, ok := h.coord.Job(); ok {
				t.Error("transcription started after cancel")
			}
		})
	}
}

func TestPauseExcludedFromDuration(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	ctx := context.Background()
	if err := h.flow.StartRecordingFlow(ctx); err != nil {
		t.Fatal(err)
	}
	h.engine.speak(3)
	h.clock.Advance(2 * time.Second)
	if err := h.flow.TogglePause(); err != nil {
		t.Fatal(err)
	}
	if got := h.flow.Status(); got != StatusPaused {
		t.Fatalf("Status() = %s, want paused", got)
	}
	if err := h.flow.PauseRecordingFlow(); err != nil {
		t.Errorf("pausing twice should be a no-op, got %v", err)
	}
	h.clock.Advance(10 * time.Second)
	if err := h.flow.TogglePause(); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(1 * time.Second)

	note, err := h.flow.StopRecordingFlow(ctx)
	if err != nil {
		t.Fatalf("StopRecordingFlow() error = %v", err)
	}
	if math.Abs(note.Duration-3) > 0.01 {
		t.Errorf("Duration = %v, want 3", note.Duration)
	}
}

func TestStopWithoutAudio(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	if err := h.flow.StartRecordingFlow(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := h.flow.StopRecordingFlow(context.Background())
	if !errors.Is(err, recorder.ErrEmptyCapture) {
		t.Fatalf("StopRecordingFlow() error = %v, want ErrEmptyCapture", err)
	}
	if n := len(h.notes(t)); n != 0 {
		t.Errorf("%d notes created, want 0", n)
	}
	if titles := h.notifier.titles(); len(titles) != 1 || titles[0] != "Recording failed" {
		t.Errorf("notifications = %v", titles)
	}
}

func TestEngineCrashFinalizesCapturedAudio(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	if err := h.flow.StartRecordingFlow(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.engine.speak(2)
	h.clock.Advance(2 * time.Second)
	h.engine.crash(capture.ErrDeviceUnavailable)

	select {
	case <-h.navigated:
	case <-time.After(5 * time.Second):
		t.Fatal("no note created after engine failure")
	}
	deadline := time.Now().Add(5 * time.Second)
	for h.flow.Status() != StatusIdle {
		if time.Now().After(deadline) {
			t.Fatalf("Status() = %s, want idle", h.flow.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	notes := h.notes(t)
	if len(notes) != 1 {
		t.Fatalf("%d notes, want 1", len(notes))
	}
	if math.Abs(notes[0].Duration-2) > 0.01 {
		t.Errorf("Duration = %v, want 2", notes[0].Duration)
	}
}

func TestStartWhileBusy(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	if err := h.flow.StartRecordingFlow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.flow.StartRecordingFlow(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second StartRecordingFlow() error = %v, want ErrBusy", err)
	}
	if _, err := New(Options{}).StopRecordingFlow(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("StopRecordingFlow() on idle flow error = %v, want ErrNotRecording", err)
	}
}

func TestCancelWhileStoppingThenRestart(t *testing.T) {
	engine := &fakeEngine{stopGate: make(chan struct{}), stopEntered: make(chan struct{}, 1)}
	h := newHarness(t, engine)
	ctx := context.Background()
	if err := h.flow.StartRecordingFlow(ctx); err != nil {
		t.Fatal(err)
	}
	h.engine.speak(1)

	done := make(chan error, 1)
	go func() {
		_, err := h.flow.StopRecordingFlow(ctx)
		done <- err
	}()
	select {
	case <-engine.stopEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never asked to stop")
	}

	if err := h.flow.CancelRecordingFlow(); err != nil {
		t.Fatalf("CancelRecordingFlow() error = %v", err)
	}
	if err := h.flow.StartRecordingFlow(ctx); !errors.Is(err, recorder.ErrBusy) {
		t.Errorf("StartRecordingFlow() while old stop runs error = %v, want recorder.ErrBusy", err)
	}
	if got := h.flow.Status(); got != StatusIdle {
		t.Errorf("Status() = %s, want idle", got)
	}

	close(engine.stopGate)
	if err := <-done; !errors.Is(err, recorder.ErrCancelled) {
		t.Fatalf("StopRecordingFlow() error = %v, want ErrCancelled", err)
	}

	if err := h.flow.StartRecordingFlow(ctx); err != nil {
		t.Fatalf("StartRecordingFlow() after cancel error = %v", err)
	}
	if got := h.flow.Status(); got != StatusRecording {
		t.Errorf("Status() = %s, want recording", got)
	}
	h.engine.speak(2)
	h.clock.Advance(2 * time.Second)
	note, err := h.flow.StopRecordingFlow(ctx)
	if err != nil {
		t.Fatalf("StopRecordingFlow() error = %v", err)
	}
	if math.Abs(note.Duration-2) > 0.01 {
		t.Errorf("Duration = %v, want 2", note.Duration)
	}
	if n := len(h.notes(t)); n != 1 {
		t.Errorf("%d notes, want 1", n)
	}
	h.waitTranscript(t)
}
