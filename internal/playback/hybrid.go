package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/gostt-notes/internal/audio"
	"github.com/chaz8081/gostt-notes/internal/flags"
)

// FlagGate decides whether the modern engine is enabled for a feature.
type FlagGate interface {
	ShouldUseModernEngine(feature flags.Feature) bool
}

// Prober reports whether an output device exists for the modern player.
type Prober interface {
	SupportsModernPlayback(ctx context.Context) bool
}

// HybridOptions configures a HybridPlayer.
type HybridOptions struct {
	Flags     FlagGate
	Prober    Prober
	NewModern func() (Player, error)
	NewLegacy func() (Player, error)
}

// HybridPlayer selects the modern or legacy player on every Load and
// forwards the active player's events. Callers never see which engine
// plays except through State().Engine.
type HybridPlayer struct {
	opts   HybridOptions
	events emitter

	mu           sync.Mutex
	modern       Player
	legacy       Player
	active       Player
	modernBroken bool
	volume       float64
}

// Compile-time interface satisfaction check.
var _ Player = (*HybridPlayer)(nil)

// NewHybridPlayer creates a player; engines are built on first use.
func NewHybridPlayer(opts HybridOptions) *HybridPlayer {
	return &HybridPlayer{opts: opts, volume: 1}
}

func (h *HybridPlayer) modernAllowed(ctx context.Context, src Source) bool {
	if h.opts.NewModern == nil || !audio.IsWAV(src.MimeType) {
		return false
	}
	if h.opts.Flags != nil && !h.opts.Flags.ShouldUseModernEngine(flags.FeaturePlayback) {
		return false
	}
	if h.opts.Prober != nil && !h.opts.Prober.SupportsModernPlayback(ctx) {
		return false
	}
	return true
}

// engine returns the cached player built by build, creating it once.
// h.mu must be held.
func (h *HybridPlayer) engine(slot *Player, build func() (Player, error)) (Player, error) {
	if *slot != nil {
		return *slot, nil
	}
	p, err := build()
	if err != nil {
		return nil, err
	}
	p.Subscribe(func(ev Event, s State) {
		h.mu.Lock()
		active := h.active == p
		h.mu.Unlock()
		if active {
			h.events.emit(ev, s)
		}
	})
	*slot = p
	return p, nil
}

// Load picks the engine for src and loads it there. A modern engine that
// cannot be created or cannot decode src falls back to the legacy one.
func (h *HybridPlayer) Load(ctx context.Context, src Source) error {
	h.mu.Lock()
	prev := h.active
	var chosen Player
	if !h.modernBroken && h.modernAllowed(ctx, src) {
		p, err := h.engine(&h.modern, h.opts.NewModern)
		if err != nil {
			slog.Warn("[playback] modern player init failed, falling back to legacy", "error", err)
			h.modernBroken = true
		} else {
			chosen = p
		}
	}
	h.mu.Unlock()

	if prev != nil {
		_ = prev.Stop()
	}

	if chosen != nil {
		if err := chosen.Load(ctx, src); err != nil {
			slog.Warn("[playback] modern player cannot load source, falling back to legacy",
				"path", src.Path, "error", err)
			chosen = nil
		}
	}
	if chosen == nil {
		if h.opts.NewLegacy == nil {
			return fmt.Errorf("playback: no player available for %s", src.MimeType)
		}
		h.mu.Lock()
		p, err := h.engine(&h.legacy, h.opts.NewLegacy)
		h.mu.Unlock()
		if err != nil {
			return fmt.Errorf("playback: initializing legacy player: %w", err)
		}
		if err := p.Load(ctx, src); err != nil {
			return err
		}
		chosen = p
	}

	h.mu.Lock()
	h.active = chosen
	vol := h.volume
	h.mu.Unlock()
	_ = chosen.SetVolume(vol)
	slog.Info("[playback] loaded", "path", src.Path, "engine", chosen.State().Engine)
	return nil
}

func (h *HybridPlayer) current() (Player, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return nil, ErrNotLoaded
	}
	return h.active, nil
}

func (h *HybridPlayer) Play(startSec float64) error {
	p, err := h.current()
	if err != nil {
		return err
	}
	return p.Play(startSec)
}

func (h *HybridPlayer) Pause() error {
	p, err := h.current()
	if err != nil {
		return nil
	}
	return p.Pause()
}

func (h *HybridPlayer) Stop() error {
	p, err := h.current()
	if err != nil {
		return nil
	}
	return p.Stop()
}

func (h *HybridPlayer) Seek(sec float64) error {
	p, err := h.current()
	if err != nil {
		return err
	}
	return p.Seek(sec)
}

// SetVolume applies to the active engine and to later loads.
func (h *HybridPlayer) SetVolume(v float64) error {
	h.mu.Lock()
	h.volume = clampVolume(v)
	active := h.active
	h.mu.Unlock()
	if active != nil {
		return active.SetVolume(v)
	}
	return nil
}

func (h *HybridPlayer) State() State {
	p, err := h.current()
	if err != nil {
		h.mu.Lock()
		defer h.mu.Unlock()
		return State{Volume: h.volume}
	}
	return p.State()
}

func (h *HybridPlayer) Subscribe(fn Listener) func() { return h.events.subscribe(fn) }

// Close releases both engines.
func (h *HybridPlayer) Close() error {
	h.mu.Lock()
	modern, legacy := h.modern, h.legacy
	h.modern, h.legacy, h.active = nil, nil, nil
	h.mu.Unlock()

	var firstErr error
	for _, p := range []Player{modern, legacy} {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
