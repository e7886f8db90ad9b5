package recorder

import (
	"math"
	"time"
)

// Session tracks elapsed recording time immune to pause gaps. A pause
// interval is folded into the paused total once, at resume (or at finalize
// when stopped while paused), never live-updated during the pause.
//
// Session is not safe for concurrent use; the recorder guards it.
type Session struct {
	now func() time.Time

	startedAt    time.Time
	pausedTotal  time.Duration
	pauseStarted time.Time
	paused       bool
	started      bool
	final        time.Duration
	finalized    bool
}

// NewSession returns a session using now as its clock. A nil now uses
// time.Now.
func NewSession(now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{now: now}
}

// Start marks the beginning of capture.
func (s *Session) Start() {
	*s = Session{now: s.now, startedAt: s.now(), started: true}
}

// Pause freezes the timer. It is a no-op when already paused.
func (s *Session) Pause() {
	if !s.started || s.paused || s.finalized {
		return
	}
	s.paused = true
	s.pauseStarted = s.now()
}

// Resume folds the pause gap into the paused total and restarts the timer.
func (s *Session) Resume() {
	if !s.paused || s.finalized {
		return
	}
	s.pausedTotal += s.now().Sub(s.pauseStarted)
	s.paused = false
}

// Paused reports whether the timer is frozen.
func (s *Session) Paused() bool { return s.paused }

// Elapsed returns now - startedAt - totalPaused. While paused it returns
// the value frozen at the moment of the pause.
func (s *Session) Elapsed() time.Duration {
	switch {
	case s.finalized:
		return s.final
	case !s.started:
		return 0
	case s.paused:
		return s.clamp(s.pauseStarted.Sub(s.startedAt) - s.pausedTotal)
	default:
		return s.clamp(s.now().Sub(s.startedAt) - s.pausedTotal)
	}
}

// RecordingTime is Elapsed in whole seconds, the value shown on the timer.
func (s *Session) RecordingTime() int {
	return int(s.Elapsed() / time.Second)
}

// Finalize closes an open pause interval and freezes the duration.
func (s *Session) Finalize() time.Duration {
	if s.finalized {
		return s.final
	}
	if s.paused {
		s.Resume()
	}
	s.final = s.Elapsed()
	s.finalized = true
	return s.final
}

// Seconds rounds d to the nearest 1/100 second.
func Seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

func (s *Session) clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
