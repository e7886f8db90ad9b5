// Package hotkey provides the global hotkeys that drive recording, using
// gohook. The record combo works in "toggle" mode (press to start, press
// again to stop) or "hold" mode (press to start, release to stop). The
// pause and cancel combos always act on key down.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType is the action a hotkey requests.
type EventType int

const (
	// EventStart signals that recording should start.
	EventStart EventType = iota
	// EventStop signals that recording should stop and be saved.
	EventStop
	// EventPause signals that recording should pause or resume.
	EventPause
	// EventCancel signals that recording should be discarded.
	EventCancel
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventPause:
		return "pause"
	case EventCancel:
		return "cancel"
	}
	return "unknown"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Bindings are the key combos, as lowercase key names such as
// ["ctrl", "shift", "r"]. Empty Pause or Cancel combos are not registered.
type Bindings struct {
	Record []string
	Pause  []string
	Cancel []string
}

// Listener manages the global hotkeys and emits events.
type Listener struct {
	bindings Bindings
	mode     string // "hold" or "toggle"
	ch       chan Event
	done     chan struct{}
	once     sync.Once

	mu        sync.Mutex
	recording bool
}

// NewListener creates a Listener. mode must be "hold" or "toggle".
func NewListener(b Bindings, mode string) *Listener {
	return &Listener{
		bindings: b,
		mode:     mode,
		ch:       make(chan Event, 16),
		done:     make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Stop is called.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// SetRecording tells the listener whether a recording is active, so a
// toggle press after an external stop or cancel starts a new recording.
func (l *Listener) SetRecording(active bool) {
	l.mu.Lock()
	l.recording = active
	l.mu.Unlock()
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.bindings.Record, func(hook.Event) { l.recordDown() })
	if l.mode == "hold" {
		hook.Register(hook.KeyUp, l.bindings.Record, func(hook.Event) { l.recordUp() })
	}
	if len(l.bindings.Pause) > 0 {
		hook.Register(hook.KeyDown, l.bindings.Pause, func(hook.Event) { l.pauseDown() })
	}
	if len(l.bindings.Cancel) > 0 {
		hook.Register(hook.KeyDown, l.bindings.Cancel, func(hook.Event) { l.cancelDown() })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

func (l *Listener) recordDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode == "hold" {
		// Key repeat delivers KeyDown while held.
		if l.recording {
			return
		}
		l.recording = true
		l.emit(EventStart)
		return
	}
	if l.recording {
		l.recording = false
		l.emit(EventStop)
	} else {
		l.recording = true
		l.emit(EventStart)
	}
}

func (l *Listener) recordUp() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.recording {
		return
	}
	l.recording = false
	l.emit(EventStop)
}

func (l *Listener) pauseDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recording {
		l.emit(EventPause)
	}
}

func (l *Listener) cancelDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.recording {
		return
	}
	l.recording = false
	l.emit(EventCancel)
}

// emit never blocks; events are dropped when the channel is full.
func (l *Listener) emit(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default:
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
