// Package playback plays stored recordings. A HybridPlayer picks the
// in-process malgo player or an external player process per load, and the
// Coordinator keeps a single playback session for the whole app.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chaz8081/gostt-notes/internal/capture"
)

// Event names a player notification.
type Event string

const (
	EventPlay       Event = "play"
	EventPause      Event = "pause"
	EventStop       Event = "stop"
	EventEnded      Event = "ended"
	EventTimeUpdate Event = "timeupdate"
	EventError      Event = "error"
)

var (
	// ErrNotLoaded is returned by transport controls before Load.
	ErrNotLoaded = errors.New("playback: no audio loaded")
	// ErrUnsupportedFormat means the player cannot decode the source.
	ErrUnsupportedFormat = errors.New("playback: unsupported audio format")
)

// timeUpdateInterval is how often timeupdate fires while playing.
const timeUpdateInterval = 250 * time.Millisecond

// Source is a playable local file.
type Source struct {
	Path     string
	MimeType string
}

// State is a player snapshot. Duration is 0 when unknown.
type State struct {
	Source   Source
	Loaded   bool
	Playing  bool
	Position float64
	Duration float64
	Volume   float64
	Engine   capture.Kind
	Err      error
}

// Listener receives player events with the state at the time of the event.
type Listener func(Event, State)

// Player is one playback implementation.
type Player interface {
	// Load prepares src, stopping anything playing.
	Load(ctx context.Context, src Source) error
	// Play starts at startSec, or resumes from the current position when
	// startSec is negative.
	Play(startSec float64) error
	Pause() error
	// Stop halts playback and rewinds.
	Stop() error
	Seek(sec float64) error
	// SetVolume sets the gain within 0..1.
	SetVolume(v float64) error
	State() State
	Subscribe(fn Listener) (unsubscribe func())
	Close() error
}

// emitter fans events out to listeners. Listeners run synchronously and
// must not call back into the player.
type emitter struct {
	mu        sync.Mutex
	listeners map[int]Listener
	next      int
}

func (e *emitter) subscribe(fn Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[int]Listener)
	}
	id := e.next
	e.next++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(ev Event, s State) {
	e.mu.Lock()
	fns := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(ev, s)
	}
}

// ticker calls fn every interval until stop is closed.
func ticker(every time.Duration, stop <-chan struct{}, fn func()) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn()
		case <-stop:
			return
		}
	}
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func clampPosition(sec, duration float64) float64 {
	if sec < 0 {
		return 0
	}
	if duration > 0 && sec > duration {
		return duration
	}
	return sec
}
