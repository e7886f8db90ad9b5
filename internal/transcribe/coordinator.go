package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/gostt-notes/internal/audio"
	"github.com/chaz8081/gostt-notes/internal/notify"
	"github.com/chaz8081/gostt-notes/internal/store"
)

var (
	// ErrNoAudio means there is nothing to transcribe.
	ErrNoAudio = errors.New("transcribe: no audio")
	// ErrSuperseded means a newer job replaced the one being waited on.
	ErrSuperseded = errors.New("transcribe: job superseded")
)

// JobStatus is the lifecycle state of a transcription job.
type JobStatus string

const (
	JobQueued       JobStatus = "queued"
	JobLoadingModel JobStatus = "loading-model"
	JobTranscribing JobStatus = "transcribing"
	JobDone         JobStatus = "done"
	JobError        JobStatus = "error"
)

// ProgressItem tracks one model file download.
type ProgressItem struct {
	File     string
	Loaded   int64
	Total    int64
	Progress float64
}

// Job is a snapshot of one transcription.
type Job struct {
	ID            string
	NoteID        string
	Status        JobStatus
	ProgressItems map[string]ProgressItem
	PartialText   string
	FinalText     string
	Chunks        []Chunk
	Explicit      bool
	Err           error

	// previousContent is the note content before a retranscription cleared
	// it; it decides whether the title was derived and may be replaced.
	previousContent string
}

// Terminal reports whether the job has finished.
func (j Job) Terminal() bool {
	return j.Status == JobDone || j.Status == JobError
}

func (j *Job) clone() Job {
	c := *j
	c.ProgressItems = maps.Clone(j.ProgressItems)
	c.Chunks = append([]Chunk(nil), j.Chunks...)
	return c
}

// Dispatcher is the worker side of the protocol.
type Dispatcher interface {
	Post(req Request) error
	Messages() <-chan Message
}

// NotesStore is the subset of the notes store the coordinator writes to.
type NotesStore interface {
	GetNoteByID(ctx context.Context, id string) (*store.Note, error)
	UpdateNote(ctx context.Context, n store.Note) error
}

// AudioLoader reads stored recordings.
type AudioLoader interface {
	LoadAudio(ctx context.Context, ref string) ([]byte, string, error)
}

// Decoder turns a stored recording into PCM.
type Decoder interface {
	Decode(ctx context.Context, blob []byte, mime string) (audio.PCM, error)
}

// AgentRunner runs post-processing agents on a finished note.
type AgentRunner interface {
	CanRunAnyAgents() bool
	ProcessNoteWithAllAutoAgents(ctx context.Context, noteID string) error
}

// Options wires the coordinator's collaborators.
type Options struct {
	Worker   Dispatcher
	Notes    NotesStore
	Audio    AudioLoader
	Decoder  Decoder
	Agents   AgentRunner
	Notifier notify.Notifier
	// Settings is read once per job at dispatch time.
	Settings func() Settings
	Now      func() time.Time
}

// Coordinator binds at most one active job to the shared worker. Messages
// carrying any other job id are discarded.
type Coordinator struct {
	opts Options

	mu      sync.Mutex
	job     *Job
	changed chan struct{}
	subs    map[int]chan Job
	nextSub int
	agents  sync.WaitGroup
}

// NewCoordinator creates a coordinator. Call Run to consume worker messages.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Settings == nil {
		opts.Settings = func() Settings { return Settings{Model: "base", Subtask: "transcribe", Language: "auto"} }
	}
	return &Coordinator{
		opts:    opts,
		changed: make(chan struct{}),
		subs:    make(map[int]chan Job),
	}
}

// Run applies worker messages until the message stream closes or ctx is
// done.
func (c *Coordinator) Run(ctx context.Context) {
	msgs := c.opts.Worker.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(ctx, msg)
		}
	}
}

// StartTranscription folds pcm to mono, resamples it for the model and
// dispatches a new job for noteID, replacing any active job. explicit
// marks a user-requested (re)transcription, which may overwrite existing
// note content.
func (c *Coordinator) StartTranscription(ctx context.Context, pcm audio.PCM, noteID string, explicit bool) (string, error) {
	return c.start(ctx, pcm, noteID, explicit, "")
}

func (c *Coordinator) start(_ context.Context, pcm audio.PCM, noteID string, explicit bool, previous string) (string, error) {
	samples := audio.Resample(audio.MonoFold(pcm), pcm.SampleRate, audio.ModelSampleRate)
	if len(samples) == 0 {
		return "", ErrNoAudio
	}
	settings := c.opts.Settings()

	job := &Job{
		ID:              uuid.NewString(),
		NoteID:          noteID,
		Status:          JobQueued,
		ProgressItems:   map[string]ProgressItem{},
		Explicit:        explicit,
		previousContent: previous,
	}

	c.mu.Lock()
	if prev := c.job; prev != nil && !prev.Terminal() {
		slog.Info("[transcribe] job superseded", "job", prev.ID, "by", job.ID)
	}
	c.job = job
	c.publishLocked()
	c.mu.Unlock()

	if err := c.opts.Worker.Post(Request{JobID: job.ID, Audio: samples, Settings: settings}); err != nil {
		c.fail(job.ID, err)
		return "", fmt.Errorf("transcribe: dispatching job: %w", err)
	}
	slog.Info("[transcribe] job dispatched", "job", job.ID, "note", noteID,
		"seconds", float64(len(samples))/audio.ModelSampleRate, "explicit", explicit)
	return job.ID, nil
}

// Retranscribe decodes a note's stored audio, clears its content and
// starts an explicit job. The old content is not recoverable.
func (c *Coordinator) Retranscribe(ctx context.Context, noteID string) (string, error) {
	note, err := c.opts.Notes.GetNoteByID(ctx, noteID)
	if err != nil {
		return "", fmt.Errorf("transcribe: loading note: %w", err)
	}
	if note.AudioURL == "" {
		return "", fmt.Errorf("transcribe: note %s has no audio: %w", noteID, ErrNoAudio)
	}

	blob, mime, err := c.opts.Audio.LoadAudio(ctx, note.AudioURL)
	if err != nil {
		return "", fmt.Errorf("transcribe: loading audio: %w", err)
	}
	pcm, err := c.opts.Decoder.Decode(ctx, blob, mime)
	if err != nil {
		return "", fmt.Errorf("transcribe: decoding audio: %w", err)
	}

	previous := note.Content
	note.Content = ""
	note.UpdatedAt = c.opts.Now()
	if err := c.opts.Notes.UpdateNote(ctx, *note); err != nil {
		return "", fmt.Errorf("transcribe: clearing note: %w", err)
	}
	return c.start(ctx, pcm, noteID, true, previous)
}

// Job returns the active job snapshot.
func (c *Coordinator) Job() (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return Job{}, false
	}
	return c.job.clone(), true
}

// Subscribe returns a stream of job snapshots. Slow subscribers miss
// intermediate snapshots. Call the returned func to unsubscribe.
func (c *Coordinator) Subscribe() (<-chan Job, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Job, 16)
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

// Wait blocks until jobID finishes and returns its final snapshot.
func (c *Coordinator) Wait(ctx context.Context, jobID string) (Job, error) {
	for {
		c.mu.Lock()
		job := c.job
		changed := c.changed
		var snap Job
		if job != nil {
			snap = job.clone()
		}
		c.mu.Unlock()

		switch {
		case job == nil || job.ID != jobID:
			return Job{}, ErrSuperseded
		case snap.Terminal():
			return snap, snap.Err
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// WaitAgents waits for fire-and-forget agent runs, for shutdown.
func (c *Coordinator) WaitAgents() {
	c.agents.Wait()
}

func (c *Coordinator) handle(ctx context.Context, msg Message) {
	c.mu.Lock()
	job := c.job
	if job == nil || job.ID != msg.JobID || job.Terminal() {
		c.mu.Unlock()
		slog.Debug("[transcribe] discarding message for inactive job", "job", msg.JobID, "status", msg.Status)
		return
	}

	switch msg.Status {
	case StatusInitiate:
		job.Status = JobLoadingModel
		job.ProgressItems[msg.File] = ProgressItem{File: msg.File, Total: msg.Total}
	case StatusProgress:
		job.Status = JobLoadingModel
		job.ProgressItems[msg.File] = ProgressItem{File: msg.File, Loaded: msg.Loaded, Total: msg.Total, Progress: msg.Progress}
	case StatusDone:
		delete(job.ProgressItems, msg.File)
	case StatusReady:
		job.Status = JobTranscribing
		clear(job.ProgressItems)
	case StatusUpdate:
		job.Status = JobTranscribing
		job.PartialText = msg.Text
		job.Chunks = msg.Chunks
	case StatusComplete:
		job.FinalText = msg.Text
		job.PartialText = msg.Text
		job.Chunks = msg.Chunks
		snap := job.clone()
		c.mu.Unlock()
		c.complete(ctx, snap)
		return
	case StatusError:
		c.mu.Unlock()
		c.fail(msg.JobID, NewWorkerError(msg.JobID, msg.Error))
		return
	}
	c.publishLocked()
	c.mu.Unlock()
}

// complete writes the transcript into the note and finishes the job.
func (c *Coordinator) complete(ctx context.Context, job Job) {
	if err := c.applyTranscript(ctx, job); err != nil {
		c.fail(job.ID, err)
		return
	}

	c.mu.Lock()
	if c.job != nil && c.job.ID == job.ID {
		c.job.Status = JobDone
		c.publishLocked()
	}
	c.mu.Unlock()
	slog.Info("[transcribe] transcript applied", "job", job.ID, "note", job.NoteID, "chars", len(job.FinalText))

	if c.opts.Agents != nil && c.opts.Agents.CanRunAnyAgents() {
		c.agents.Add(1)
		go func() {
			defer c.agents.Done()
			// Agent failures never change the transcription outcome.
			if err := c.opts.Agents.ProcessNoteWithAllAutoAgents(context.WithoutCancel(ctx), job.NoteID); err != nil {
				slog.Warn("[transcribe] auto agents failed", "note", job.NoteID, "error", err)
			}
		}()
	}
}

func (c *Coordinator) applyTranscript(ctx context.Context, job Job) error {
	note, err := c.opts.Notes.GetNoteByID(ctx, job.NoteID)
	if err != nil {
		return fmt.Errorf("transcribe: loading note: %w", err)
	}

	if strings.TrimSpace(note.Content) != "" && !job.Explicit {
		slog.Warn("[transcribe] note already has content, transcript not applied", "note", note.ID)
		c.opts.Notifier.Info("Transcript not applied", "The note already has content. Retranscribe to replace it.")
		return nil
	}

	previous := job.previousContent
	if previous == "" {
		previous = note.Content
	}
	if retitle(note.Title, previous) {
		note.Title = SmartTitle(job.FinalText)
	}
	note.Content = job.FinalText
	note.UpdatedAt = c.opts.Now()
	if err := c.opts.Notes.UpdateNote(ctx, *note); err != nil {
		return fmt.Errorf("transcribe: saving transcript: %w", err)
	}
	if job.FinalText == "" {
		c.opts.Notifier.Info("No speech detected", "The recording was saved without a transcript.")
	}
	return nil
}

// retitle reports whether title is a placeholder or was derived from the
// previous content, and so may be replaced.
func retitle(title, previous string) bool {
	title = strings.TrimSpace(title)
	if title == "" || title == DefaultTitle {
		return true
	}
	return previous != "" && title == SmartTitle(previous)
}

func (c *Coordinator) fail(jobID string, err error) {
	c.mu.Lock()
	if c.job == nil || c.job.ID != jobID {
		c.mu.Unlock()
		return
	}
	c.job.Status = JobError
	c.job.Err = err
	c.publishLocked()
	c.mu.Unlock()
	c.opts.Notifier.Error("Transcription failed", err)
}

// publishLocked wakes waiters and sends a snapshot to subscribers.
// c.mu must be held.
func (c *Coordinator) publishLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
	if c.job == nil {
		return
	}
	snap := c.job.clone()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
