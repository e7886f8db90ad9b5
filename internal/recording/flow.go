// Package recording turns a recorder session into a saved note: it drives
// the hybrid recorder, persists the finished audio, creates the note and
// hands the audio to transcription.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/gostt-notes/internal/audio"
	"github.com/chaz8081/gostt-notes/internal/capture"
	"github.com/chaz8081/gostt-notes/internal/notify"
	"github.com/chaz8081/gostt-notes/internal/recorder"
	"github.com/chaz8081/gostt-notes/internal/store"
	"github.com/chaz8081/gostt-notes/internal/transcribe"
)

// Status is the user-facing recording state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRecording  Status = "recording"
	StatusPaused     Status = "paused"
	StatusStopping   Status = "stopping"
	StatusProcessing Status = "processing"
)

// ErrBusy is returned when an action does not fit the current status.
var ErrBusy = errors.New("recording: another recording is in progress")

// ErrNotRecording is returned by pause, resume and stop when idle.
var ErrNotRecording = errors.New("recording: not recording")

// Recorder is the hybrid recorder contract.
type Recorder interface {
	Initialize(ctx context.Context) error
	StartRecording(ctx context.Context) error
	PauseRecording() error
	ResumeRecording() error
	StopRecording(ctx context.Context) (recorder.Result, error)
	CancelRecording() error
	State() recorder.State
}

// AudioSaver persists finished recordings.
type AudioSaver interface {
	SaveAudio(ctx context.Context, blob []byte, filename, mimeType string) (string, error)
}

// NoteCreator inserts notes.
type NoteCreator interface {
	AddNote(ctx context.Context, n store.Note) error
}

// Decoder turns the recorded blob into PCM for transcription.
type Decoder interface {
	Decode(ctx context.Context, blob []byte, mime string) (audio.PCM, error)
}

// Transcriber starts a transcription job for a note.
type Transcriber interface {
	StartTranscription(ctx context.Context, pcm audio.PCM, noteID string, explicit bool) (string, error)
}

// Options wires a Flow.
type Options struct {
	Recorder    Recorder
	Audio       AudioSaver
	Notes       NoteCreator
	Decoder     Decoder
	Transcriber Transcriber
	Notifier    notify.Notifier
	// Navigate is called with the id of each newly created note.
	Navigate func(noteID string)
	Now      func() time.Time
}

// Flow is the recording state machine. One Flow is owned by the app and
// passed to whatever drives it (hotkeys, CLI).
type Flow struct {
	opts Options

	mu     sync.Mutex
	status Status
}

// New creates an idle Flow.
func New(opts Options) *Flow {
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Flow{opts: opts, status: StatusIdle}
}

// Status returns the current state.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Elapsed returns the recorded time so far, excluding pauses.
func (f *Flow) Elapsed() float64 {
	return f.opts.Recorder.State().ElapsedSeconds
}

func (f *Flow) setStatus(s Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

// transition moves from one of the allowed states to next.
func (f *Flow) transition(next Status, from ...Status) (Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range from {
		if f.status == s {
			prev := f.status
			f.status = next
			return prev, true
		}
	}
	return f.status, false
}

// StartRecordingFlow initializes the recorder if needed and starts
// capture. On failure the user is notified, no note is created and the
// flow returns to idle.
func (f *Flow) StartRecordingFlow(ctx context.Context) error {
	if _, ok := f.transition(StatusRecording, StatusIdle); !ok {
		return ErrBusy
	}

	err := f.opts.Recorder.Initialize(ctx)
	if err == nil {
		err = f.opts.Recorder.StartRecording(ctx)
	}
	if err != nil {
		f.setStatus(StatusIdle)
		title := "Recording failed"
		switch {
		case errors.Is(err, capture.ErrPermissionDenied):
			title = "Microphone access denied"
		case errors.Is(err, capture.ErrDeviceUnavailable):
			title = "No microphone found"
		}
		slog.Error("[recording] start failed", "error", err)
		f.opts.Notifier.Error(title, err)
		return fmt.Errorf("recording: start: %w", err)
	}
	slog.Info("[recording] started", "engine", f.opts.Recorder.State().EngineUsed)
	return nil
}

// PauseRecordingFlow pauses an active recording. Pausing while paused is
// a no-op.
func (f *Flow) PauseRecordingFlow() error {
	prev, ok := f.transition(StatusPaused, StatusRecording, StatusPaused)
	if !ok {
		return ErrNotRecording
	}
	if prev == StatusPaused {
		return nil
	}
	if err := f.opts.Recorder.PauseRecording(); err != nil {
		f.setStatus(prev)
		return fmt.Errorf("recording: pause: %w", err)
	}
	return nil
}

// ResumeRecordingFlow resumes a paused recording. Resuming while
// recording is a no-op.
func (f *Flow) ResumeRecordingFlow() error {
	prev, ok := f.transition(StatusRecording, StatusPaused, StatusRecording)
	if !ok {
		return ErrNotRecording
	}
	if prev == StatusRecording {
		return nil
	}
	if err := f.opts.Recorder.ResumeRecording(); err != nil {
		f.setStatus(prev)
		return fmt.Errorf("recording: resume: %w", err)
	}
	return nil
}

// TogglePause pauses a running recording or resumes a paused one.
func (f *Flow) TogglePause() error {
	if f.Status() == StatusPaused {
		return f.ResumeRecordingFlow()
	}
	return f.PauseRecordingFlow()
}

// StopRecordingFlow finalizes the recording, saves the audio, creates the
// note, navigates to it and starts transcription. A transcription failure
// does not undo the saved note.
func (f *Flow) StopRecordingFlow(ctx context.Context) (store.Note, error) {
	if _, ok := f.transition(StatusStopping, StatusRecording, StatusPaused); !ok {
		return store.Note{}, ErrNotRecording
	}

	res, err := f.opts.Recorder.StopRecording(ctx)
	if err != nil {
		// A cancel may already have reset the flow and a new recording
		// may have started since.
		f.transition(StatusIdle, StatusStopping)
		if errors.Is(err, recorder.ErrCancelled) {
			return store.Note{}, err
		}
		slog.Error("[recording] stop failed", "error", err)
		f.opts.Notifier.Error("Recording failed", err)
		return store.Note{}, fmt.Errorf("recording: stop: %w", err)
	}

	if _, ok := f.transition(StatusProcessing, StatusStopping); !ok {
		slog.Info("[recording] cancelled after capture finished, discarding")
		return store.Note{}, recorder.ErrCancelled
	}
	defer f.transition(StatusIdle, StatusProcessing)

	now := f.opts.Now()
	filename := fmt.Sprintf("recording-%d.%s", now.UnixMilli(), capture.Extension(res.MimeType))
	ref, err := f.opts.Audio.SaveAudio(ctx, res.AudioBlob, filename, res.MimeType)
	if err != nil {
		slog.Error("[recording] saving audio failed", "file", filename, "error", err)
		f.opts.Notifier.Error("Could not save recording", err)
		return store.Note{}, fmt.Errorf("recording: save audio: %w", err)
	}

	note := store.Note{
		ID:        uuid.NewString(),
		Title:     transcribe.DefaultTitle,
		AudioURL:  ref,
		Duration:  res.DurationSeconds,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      []string{},
	}
	if err := f.opts.Notes.AddNote(ctx, note); err != nil {
		slog.Error("[recording] creating note failed", "audio", ref, "error", err)
		f.opts.Notifier.Error("Could not create note", err)
		return store.Note{}, fmt.Errorf("recording: create note: %w", err)
	}
	slog.Info("[recording] note created", "note", note.ID, "audio", ref,
		"duration", note.Duration, "engine", res.EngineUsed)

	if f.opts.Navigate != nil {
		f.opts.Navigate(note.ID)
	}

	if err := f.transcribe(ctx, res, note.ID); err != nil {
		slog.Error("[recording] transcription not started", "note", note.ID, "error", err)
		f.opts.Notifier.Error("Transcription failed", err)
	}
	return note, nil
}

func (f *Flow) transcribe(ctx context.Context, res recorder.Result, noteID string) error {
	if f.opts.Transcriber == nil || f.opts.Decoder == nil {
		return nil
	}
	pcm, err := f.opts.Decoder.Decode(ctx, res.AudioBlob, res.MimeType)
	if err != nil {
		return fmt.Errorf("recording: decoding audio: %w", err)
	}
	if _, err := f.opts.Transcriber.StartTranscription(ctx, pcm, noteID, false); err != nil {
		return err
	}
	return nil
}

// CancelRecordingFlow discards the recording. Nothing is written. It is a
// no-op when idle.
func (f *Flow) CancelRecordingFlow() error {
	if _, ok := f.transition(StatusIdle, StatusRecording, StatusPaused, StatusStopping); !ok {
		return nil
	}
	if err := f.opts.Recorder.CancelRecording(); err != nil {
		return fmt.Errorf("recording: cancel: %w", err)
	}
	slog.Info("[recording] cancelled")
	return nil
}

// HandleEngineError is the recorder's mid-recording failure callback. The
// chunks captured before the failure are finalized into a note.
func (f *Flow) HandleEngineError(ctx context.Context, err error) {
	slog.Error("[recording] capture engine failed", "error", err)
	s := f.Status()
	if s != StatusRecording && s != StatusPaused {
		return
	}
	f.opts.Notifier.Info("Recording interrupted", "Saving the audio captured so far.")
	if _, stopErr := f.StopRecordingFlow(ctx); stopErr != nil {
		slog.Warn("[recording] finalizing after engine failure", "error", stopErr)
	}
}
