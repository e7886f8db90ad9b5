package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/chaz8081/gostt-notes/internal/hotkey"
	"github.com/chaz8081/gostt-notes/internal/recording"
	"github.com/chaz8081/gostt-notes/internal/transcribe"
)

// runDaemon drives the recording flow from global hotkeys until ctx is
// cancelled. It never returns: gohook's C cleanup crashes on exit, so the
// process exits directly once everything else is released.
func (a *app) runDaemon(ctx context.Context) {
	if err := a.recorder.Initialize(ctx); err != nil {
		slog.Warn("[app] recorder not ready yet, retrying on first recording", "error", err)
	} else {
		st := a.recorder.State()
		slog.Info("[app] recorder ready", "engine", st.EngineUsed, "mime", st.MimeType, "native_pause", st.SupportsNativePause)
	}

	listener := hotkey.NewListener(hotkey.Bindings{
		Record: a.cfg.Hotkey.Record,
		Pause:  a.cfg.Hotkey.Pause,
		Cancel: a.cfg.Hotkey.Cancel,
	}, a.cfg.Hotkey.Mode)
	a.setListener(listener)
	go listener.Start()

	jobs, unsubscribe := a.coord.Subscribe()
	defer unsubscribe()
	go logJobs(jobs)

	slog.Info("[app] ready, press the record hotkey to take a note")

	events := listener.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				slog.Info("[app] hotkey listener stopped")
				a.shutdown(listener)
				return
			}
			a.handleHotkey(ctx, ev)
			a.syncListener()

		case <-ctx.Done():
			slog.Info("[app] shutting down")
			a.shutdown(listener)
			return
		}
	}
}

func (a *app) handleHotkey(ctx context.Context, ev hotkey.Event) {
	slog.Debug("[app] hotkey", "event", ev.Type, "status", a.flow.Status())
	var err error
	switch ev.Type {
	case hotkey.EventStart:
		err = a.flow.StartRecordingFlow(ctx)
	case hotkey.EventStop:
		_, err = a.flow.StopRecordingFlow(ctx)
	case hotkey.EventPause:
		err = a.flow.TogglePause()
	case hotkey.EventCancel:
		err = a.flow.CancelRecordingFlow()
	}
	switch {
	case err == nil:
	case errors.Is(err, recording.ErrBusy), errors.Is(err, recording.ErrNotRecording):
		slog.Debug("[app] hotkey ignored", "event", ev.Type, "status", a.flow.Status())
	default:
		// The flow already notified the user.
		slog.Debug("[app] hotkey action failed", "event", ev.Type, "error", err)
	}
}

func (a *app) shutdown(listener *hotkey.Listener) {
	a.Close()
	listener.Stop()
	slog.Info("[app] goodbye")
	// Exit directly to avoid gohook's C cleanup crash.
	// The OS reclaims the event hook on process exit.
	os.Exit(0)
}

func logJobs(jobs <-chan transcribe.Job) {
	last := ""
	for j := range jobs {
		line := describeJob(j)
		if line == last {
			continue
		}
		last = line
		slog.Debug("[app] transcription", "job", j.ID, "note", j.NoteID, "status", line)
	}
}
