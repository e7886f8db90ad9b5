package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chaz8081/gostt-notes/internal/capture"
	"github.com/chaz8081/gostt-notes/internal/notify"
	"github.com/chaz8081/gostt-notes/internal/store"
)

// ErrStorageResolution means a storage ref could not be turned into a
// playable file. Playback aborts; nothing else is affected.
var ErrStorageResolution = errors.New("playback: could not resolve stored audio")

// Resolver turns storage refs into local files.
type Resolver interface {
	IsStorageURL(ref string) bool
	ResolveStorageURL(ctx context.Context, ref string) (store.Resolved, error)
}

// Session is the now-playing state.
type Session struct {
	Ref      string
	Playing  bool
	Position float64
	Duration float64
	Engine   capture.Kind
}

// SessionListener receives coordinator events with the session snapshot.
type SessionListener func(Event, Session)

// Coordinator owns the single playback session of the app. Starting a
// different source always stops the current one first.
type Coordinator struct {
	player   Player
	resolver Resolver
	notifier notify.Notifier

	// opMu serializes calls into the player. mu guards the session and is
	// the only lock taken by the player event listener.
	opMu sync.Mutex

	mu        sync.Mutex
	ref       string
	path      string
	stored    float64
	listeners map[int]SessionListener
	nextID    int
	unsub     func()
}

// NewCoordinator binds the coordinator to player.
func NewCoordinator(player Player, resolver Resolver, notifier notify.Notifier) *Coordinator {
	if notifier == nil {
		notifier = notify.Log{}
	}
	c := &Coordinator{
		player:    player,
		resolver:  resolver,
		notifier:  notifier,
		listeners: make(map[int]SessionListener),
	}
	c.unsub = player.Subscribe(c.onPlayerEvent)
	return c
}

// PlayAudio toggles play/pause when ref is the current source, otherwise
// stops the current source and starts ref from the beginning.
// storedDuration is the note's recorded duration; 0 means unknown.
func (c *Coordinator) PlayAudio(ctx context.Context, ref string, storedDuration float64) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	same := c.ref != "" && c.ref == ref
	c.mu.Unlock()

	if same {
		if c.player.State().Playing {
			return c.player.Pause()
		}
		return c.player.Play(-1)
	}

	c.teardown()

	src, err := c.resolve(ctx, ref)
	if err != nil {
		slog.Error("[playback] resolving audio failed", "ref", ref, "error", err)
		c.notifier.Error("Could not play audio", err)
		return err
	}
	if err := c.player.Load(ctx, src); err != nil {
		c.notifier.Error("Could not play audio", err)
		return fmt.Errorf("playback: loading %s: %w", ref, err)
	}

	c.mu.Lock()
	c.ref = ref
	c.path = src.Path
	c.stored = storedDuration
	c.mu.Unlock()

	if err := c.player.Play(0); err != nil {
		c.clear("")
		c.notifier.Error("Could not play audio", err)
		return fmt.Errorf("playback: playing %s: %w", ref, err)
	}
	slog.Info("[playback] playing", "ref", ref, "duration", c.duration(c.player.State()))
	return nil
}

// resolve maps storage refs through the resolver and accepts plain paths
// and file:// URLs as they are.
func (c *Coordinator) resolve(ctx context.Context, ref string) (Source, error) {
	if ref == "" {
		return Source{}, fmt.Errorf("%w: empty reference", ErrStorageResolution)
	}
	if c.resolver != nil && c.resolver.IsStorageURL(ref) {
		r, err := c.resolver.ResolveStorageURL(ctx, ref)
		if err != nil {
			return Source{}, fmt.Errorf("%w: %w", ErrStorageResolution, err)
		}
		return Source{Path: r.Path, MimeType: r.MimeType}, nil
	}
	path := ref
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return Source{}, fmt.Errorf("%w: %w", ErrStorageResolution, err)
		}
		path = u.Path
	}
	return Source{Path: path, MimeType: mime.TypeByExtension(filepath.Ext(path))}, nil
}

// Stop closes the session.
func (c *Coordinator) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardown()
	return nil
}

// teardown stops the player and forgets the session. c.opMu must be held.
func (c *Coordinator) teardown() {
	c.mu.Lock()
	active := c.ref != ""
	c.mu.Unlock()
	if !active {
		return
	}
	if err := c.player.Stop(); err != nil {
		slog.Warn("[playback] stopping previous source", "error", err)
	}
	c.clear("")
}

// clear drops the session. When path is set only a session for that file
// is dropped.
func (c *Coordinator) clear(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if path != "" && c.path != path {
		return false
	}
	c.ref, c.path, c.stored = "", "", 0
	return true
}

// Seek moves the play head of the current session.
func (c *Coordinator) Seek(sec float64) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if _, ok := c.Session(); !ok {
		return ErrNotLoaded
	}
	return c.player.Seek(sec)
}

// SetVolume sets the playback gain.
func (c *Coordinator) SetVolume(v float64) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.player.SetVolume(v)
}

// Session returns the now-playing snapshot.
func (c *Coordinator) Session() (Session, bool) {
	s := c.snapshot(c.player.State())
	return s, s.Ref != ""
}

func (c *Coordinator) snapshot(ps State) Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ref == "" {
		return Session{}
	}
	return Session{
		Ref:      c.ref,
		Playing:  ps.Playing,
		Position: ps.Position,
		Duration: effectiveDuration(c.stored, ps.Duration),
		Engine:   ps.Engine,
	}
}

func (c *Coordinator) duration(ps State) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return effectiveDuration(c.stored, ps.Duration)
}

// effectiveDuration prefers the stored duration; the media duration is a
// fallback and only when it is a finite positive number.
func effectiveDuration(stored, media float64) float64 {
	if stored > 0 && !math.IsInf(stored, 0) && !math.IsNaN(stored) {
		return stored
	}
	if media > 0 && !math.IsInf(media, 0) && !math.IsNaN(media) {
		return media
	}
	return 0
}

// Subscribe registers fn for session events.
func (c *Coordinator) Subscribe(fn SessionListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) onPlayerEvent(ev Event, ps State) {
	s := c.snapshot(ps)
	switch ev {
	case EventEnded:
		// Natural end of media closes the session.
		c.clear(ps.Source.Path)
		s.Playing = false
	case EventError:
		if c.clear(ps.Source.Path) {
			c.notifier.Error("Playback failed", ps.Err)
		}
		s.Playing = false
	}

	c.mu.Lock()
	fns := make([]SessionListener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev, s)
	}
}

// Close ends the session and releases the player.
func (c *Coordinator) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardown()
	if c.unsub != nil {
		c.unsub()
	}
	return c.player.Close()
}
