package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/chaz8081/gostt-notes/internal/agents"
	"github.com/chaz8081/gostt-notes/internal/audio"
	"github.com/chaz8081/gostt-notes/internal/capability"
	"github.com/chaz8081/gostt-notes/internal/capture"
	"github.com/chaz8081/gostt-notes/internal/config"
	"github.com/chaz8081/gostt-notes/internal/flags"
	"github.com/chaz8081/gostt-notes/internal/hotkey"
	"github.com/chaz8081/gostt-notes/internal/notify"
	"github.com/chaz8081/gostt-notes/internal/playback"
	"github.com/chaz8081/gostt-notes/internal/recorder"
	"github.com/chaz8081/gostt-notes/internal/recording"
	"github.com/chaz8081/gostt-notes/internal/share"
	"github.com/chaz8081/gostt-notes/internal/store"
	"github.com/chaz8081/gostt-notes/internal/transcribe"
)

const appName = "gostt-notes"

// app holds every long-lived component of the process.
type app struct {
	cfg         *config.Config
	notifier    notify.Notifier
	db          *store.DB
	audio       *store.Router
	storageKind string
	flags       *flags.Store
	prober      *capability.Prober

	recorder *recorder.HybridRecorder
	flow     *recording.Flow

	backend transcribe.Backend
	worker  *transcribe.Worker
	coord   *transcribe.Coordinator

	player   *playback.HybridPlayer
	playback *playback.Coordinator
	sharer   *share.Sharer

	// listener is set once the daemon starts; engine failures clear its
	// recording state.
	listenerMu sync.Mutex
	listener   *hotkey.Listener

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// storageProber answers the storage capability checks.
type storageProber interface {
	SupportsSQLite(path string) bool
	SupportsFileStorage(dir string) bool
}

// pickAudioStore names the store new recordings are written to. The
// database is used when the storage flag is on and it opens, or when the
// audio directory is not writable.
func pickAudioStore(useSQLite bool, p storageProber, s config.StorageConfig) string {
	if useSQLite && p.SupportsSQLite(s.DBPath) {
		return "sqlite"
	}
	if !p.SupportsFileStorage(s.AudioDir) {
		slog.Warn("[app] audio dir not writable, storing audio in the database", "dir", s.AudioDir)
		return "sqlite"
	}
	return "files"
}

// newApp wires the store, flags, capture, transcription and playback
// layers. Background goroutines stop when ctx is done or Close is called.
func newApp(parent context.Context, cfg *config.Config) (*app, error) {
	ctx, cancel := context.WithCancel(parent)
	a := &app{cfg: cfg, cancel: cancel}

	if cfg.Notifications {
		a.notifier = notify.NewDesktop(appName)
	} else {
		a.notifier = notify.Log{}
	}

	dataDir := filepath.Dir(cfg.Storage.DBPath)
	deviceID, err := flags.DeviceID(dataDir)
	if err != nil {
		cancel()
		return nil, err
	}
	a.flags = flags.NewStore(cfg.Flags, deviceID)
	a.prober = capability.New(cfg.Audio.FFmpegBin)

	a.db, err = store.Open(cfg.Storage.DBPath)
	if err != nil {
		cancel()
		return nil, err
	}

	// Both stores stay registered so refs written under either setting
	// keep resolving; the flag only picks where new audio goes.
	blobs := store.NewSQLiteAudio(a.db, filepath.Join(dataDir, "cache"))
	files := store.NewDirAudio(cfg.Storage.AudioDir)
	a.storageKind = pickAudioStore(a.flags.ShouldUseModernEngine(flags.FeatureStorage), a.prober, cfg.Storage)
	if a.storageKind == "sqlite" {
		a.audio = store.NewRouter(blobs, files)
	} else {
		a.audio = store.NewRouter(files, blobs)
	}

	a.backend, err = transcribe.New(&cfg.Transcribe)
	if err != nil {
		a.db.Close()
		cancel()
		return nil, err
	}
	a.worker = transcribe.NewWorker(a.backend)

	decoder := audio.NewDecoder(cfg.Audio.FFmpegBin)
	a.coord = transcribe.NewCoordinator(transcribe.Options{
		Worker:   a.worker,
		Notes:    a.db,
		Audio:    a.audio,
		Decoder:  decoder,
		Agents:   agents.New(cfg.Agents),
		Notifier: a.notifier,
		Settings: func() transcribe.Settings { return transcribe.SettingsFromConfig(&cfg.Transcribe) },
	})
	go a.worker.Run(ctx)
	go a.coord.Run(ctx)

	a.recorder = recorder.New(recorder.Options{
		Flags:          a.flags,
		Prober:         a.prober,
		Constraints:    constraintsFromConfig(cfg.Audio),
		FlushGrace:     time.Duration(cfg.Audio.FlushGraceMS) * time.Millisecond,
		MimePreference: cfg.Audio.MimePreference,
		NewModern: func() (capture.Engine, error) {
			e, err := capture.NewMalgoEngine()
			if err != nil {
				return nil, err
			}
			return e, nil
		},
		NewLegacy: func(mime string) (capture.Engine, error) {
			e, err := capture.NewFFmpegEngine(capture.FFmpegOptions{Bin: cfg.Audio.FFmpegBin}, mime)
			if err != nil {
				return nil, err
			}
			return e, nil
		},
		OnEngineError: func(err error) {
			a.flow.HandleEngineError(ctx, err)
			a.syncListener()
		},
	})

	a.flow = recording.New(recording.Options{
		Recorder:    a.recorder,
		Audio:       a.audio,
		Notes:       a.db,
		Decoder:     decoder,
		Transcriber: a.coord,
		Notifier:    a.notifier,
		Navigate: func(noteID string) {
			slog.Info("[app] note saved", "id", noteID)
		},
	})

	a.player = playback.NewHybridPlayer(playback.HybridOptions{
		Flags:  a.flags,
		Prober: a.prober,
		NewModern: func() (playback.Player, error) {
			p, err := playback.NewMalgoPlayer()
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		NewLegacy: func() (playback.Player, error) {
			p, err := playback.NewExecPlayer(cfg.Playback.PlayerBin)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
	})
	a.playback = playback.NewCoordinator(a.player, a.audio, a.notifier)
	a.sharer = share.New(a.db, a.audio, a.notifier)

	slog.Debug("[app] components ready",
		"device", deviceID,
		"storage", a.storageKind,
		"backend", cfg.Transcribe.Backend,
	)
	return a, nil
}

func constraintsFromConfig(c config.AudioConfig) capture.Constraints {
	return capture.Constraints{
		SampleRate:       c.SampleRate,
		Channels:         c.Channels,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		AutoGain:         c.AutoGain,
		Timeslice:        time.Duration(c.TimesliceMS) * time.Millisecond,
	}
}

func (a *app) setListener(l *hotkey.Listener) {
	a.listenerMu.Lock()
	a.listener = l
	a.listenerMu.Unlock()
}

// syncListener mirrors the flow status into the hotkey listener so that
// toggle presses match what is actually happening.
func (a *app) syncListener() {
	a.listenerMu.Lock()
	l := a.listener
	a.listenerMu.Unlock()
	if l == nil {
		return
	}
	s := a.flow.Status()
	l.SetRecording(s == recording.StatusRecording || s == recording.StatusPaused)
}

// Close cancels an in-flight recording and releases devices, the worker
// and the database. It is safe to call more than once.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		switch a.flow.Status() {
		case recording.StatusRecording, recording.StatusPaused:
			if err := a.flow.CancelRecordingFlow(); err != nil {
				slog.Warn("[app] cancelling recording", "error", err)
			}
		}
		if err := a.playback.Close(); err != nil {
			slog.Warn("[app] closing playback", "error", err)
		}
		if err := a.recorder.Close(); err != nil {
			slog.Warn("[app] closing recorder", "error", err)
		}
		a.cancel()
		a.coord.WaitAgents()
		if err := a.backend.Close(); err != nil {
			slog.Warn("[app] closing transcription backend", "error", err)
		}
		if err := a.db.Close(); err != nil {
			slog.Warn("[app] closing database", "error", err)
		}
	})
}

// describeJob renders a job status line for the terminal.
func describeJob(j transcribe.Job) string {
	switch j.Status {
	case transcribe.JobLoadingModel:
		var loaded, total int64
		for _, p := range j.ProgressItems {
			loaded += p.Loaded
			total += p.Total
		}
		if total > 0 {
			return fmt.Sprintf("loading model %.0f%%", float64(loaded)/float64(total)*100)
		}
		return "loading model"
	case transcribe.JobTranscribing:
		if j.PartialText != "" {
			return "transcribing: " + j.PartialText
		}
		return "transcribing"
	default:
		return string(j.Status)
	}
}
