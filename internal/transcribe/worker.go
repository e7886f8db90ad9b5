package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/gostt-notes/internal/models"
)

// ErrWorkerBusy is returned when the request queue is full.
var ErrWorkerBusy = errors.New("transcribe: worker queue full")

// Worker runs the backend on one goroutine and reports every step as a
// Message tagged with the request's job id. A newer request preempts the
// one in flight: its context is cancelled and its queued entry skipped.
type Worker struct {
	backend  Backend
	requests chan Request
	out      chan Message

	mu      sync.Mutex
	latest  string
	cancel  context.CancelFunc
	running string
}

// NewWorker creates a worker around backend. Call Run to start it.
func NewWorker(backend Backend) *Worker {
	return &Worker{
		backend:  backend,
		requests: make(chan Request, 8),
		out:      make(chan Message, 64),
	}
}

// Messages returns the worker's outgoing message stream. It is closed
// when Run returns.
func (w *Worker) Messages() <-chan Message {
	return w.out
}

// Post queues req. It never blocks.
func (w *Worker) Post(req Request) error {
	w.mu.Lock()
	w.latest = req.JobID
	if w.cancel != nil && w.running != req.JobID {
		w.cancel()
	}
	w.mu.Unlock()

	select {
	case w.requests <- req:
		return nil
	default:
		return ErrWorkerBusy
	}
}

// Run processes requests until ctx is done, then closes the backend.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.out)
	defer func() {
		if err := w.backend.Close(); err != nil {
			slog.Warn("[transcribe] closing backend", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			jobCtx, cancel, ok := w.claim(ctx, req)
			if !ok {
				slog.Debug("[transcribe] skipping superseded job", "job", req.JobID)
				continue
			}
			w.process(jobCtx, cancel, req)
		}
	}
}

// claim makes req the running job unless a newer one was posted. The
// staleness check and the cancel registration share one critical section
// so a Post can never slip between them.
func (w *Worker) claim(parent context.Context, req Request) (context.Context, context.CancelFunc, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if req.JobID != w.latest {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.running = req.JobID
	return ctx, cancel, true
}

func (w *Worker) process(ctx context.Context, cancel context.CancelFunc, req Request) {
	defer cancel()
	defer func() {
		w.mu.Lock()
		w.cancel = nil
		w.running = ""
		w.mu.Unlock()
	}()

	emit := func(m Message) {
		m.JobID = req.JobID
		select {
		case w.out <- m:
		case <-ctx.Done():
		}
	}
	fail := func(err error) {
		if ctx.Err() != nil {
			// Preempted or shutting down; nobody is listening for this job.
			return
		}
		slog.Error("[transcribe] job failed", "job", req.JobID, "error", err)
		emit(Message{Status: StatusError, Error: err.Error()})
	}

	slog.Info("[transcribe] job started", "job", req.JobID, "samples", len(req.Audio), "model", req.Settings.Model)

	err := w.backend.Load(ctx, req.Settings, func(e models.Event) {
		switch e.Status {
		case models.StatusInitiate, models.StatusProgress, models.StatusDone:
			emit(Message{
				Status:   Status(e.Status),
				File:     e.File,
				Progress: e.Progress,
				Loaded:   e.Loaded,
				Total:    e.Total,
			})
		}
	})
	if err != nil {
		fail(err)
		return
	}
	emit(Message{Status: StatusReady})

	var partial []Chunk
	chunks, err := w.backend.Transcribe(ctx, req.Audio, req.Settings, func(c Chunk) {
		partial = append(partial, c)
		emit(Message{
			Status: StatusUpdate,
			Text:   JoinChunks(partial),
			Chunks: append([]Chunk(nil), partial...),
		})
	})
	if err != nil {
		fail(fmt.Errorf("transcribe: job %s: %w", req.JobID, err))
		return
	}

	emit(Message{Status: StatusComplete, Text: JoinChunks(chunks), Chunks: chunks})
	slog.Info("[transcribe] job complete", "job", req.JobID, "segments", len(chunks))
}
