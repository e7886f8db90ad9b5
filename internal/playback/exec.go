package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/gostt-notes/internal/audio"
	"github.com/chaz8081/gostt-notes/internal/capture"
)

// ExecPlayer plays through an external player process (ffplay, mpv or
// afplay). Position is wall-clock based; pause stops the process and
// play restarts it from the recorded offset.
type ExecPlayer struct {
	bin      string
	probeBin string

	// command builds child processes; tests replace it.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	now     func() time.Time
	events  emitter

	mu        sync.Mutex
	src       Source
	loaded    bool
	duration  float64
	offset    float64
	startedAt time.Time
	volume    float64
	playing   bool
	cmd       *exec.Cmd
	gen       int
	stopTick  chan struct{}
}

// Compile-time interface satisfaction check.
var _ Player = (*ExecPlayer)(nil)

// playerCandidates are tried in order when no binary is configured.
var playerCandidates = []string{"ffplay", "mpv", "afplay"}

// NewExecPlayer returns a player running bin, or the first available
// candidate when bin is empty. It fails with capture.ErrUnsupported when
// no player binary exists.
func NewExecPlayer(bin string) (*ExecPlayer, error) {
	if bin == "" {
		for _, c := range playerCandidates {
			if _, err := exec.LookPath(c); err == nil {
				bin = c
				break
			}
		}
	}
	if bin == "" {
		return nil, fmt.Errorf("playback: no player binary found (tried %s): %w",
			strings.Join(playerCandidates, ", "), capture.ErrUnsupported)
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("playback: player binary: %w", errors.Join(capture.ErrUnsupported, err))
	}
	return newExecPlayer(bin), nil
}

func newExecPlayer(bin string) *ExecPlayer {
	probe := "ffprobe"
	if filepath.Base(bin) == "ffplay" && filepath.Dir(bin) != "." {
		probe = filepath.Join(filepath.Dir(bin), "ffprobe")
	}
	return &ExecPlayer{
		bin:      bin,
		probeBin: probe,
		command:  exec.CommandContext,
		now:      time.Now,
		volume:   1,
	}
}

func (p *ExecPlayer) kind() string {
	name := strings.TrimSuffix(filepath.Base(p.bin), filepath.Ext(p.bin))
	switch name {
	case "mpv", "afplay":
		return name
	}
	return "ffplay"
}

// args builds the player command line starting at offset seconds.
// afplay cannot seek and always starts from the beginning.
func (p *ExecPlayer) args(path string, offset, volume float64) []string {
	ss := strconv.FormatFloat(offset, 'f', 3, 64)
	switch p.kind() {
	case "mpv":
		return []string{"--no-video", "--really-quiet",
			"--start=" + ss, "--volume=" + strconv.Itoa(int(math.Round(volume*100))), path}
	case "afplay":
		return []string{"-v", strconv.FormatFloat(volume, 'f', 2, 64), path}
	}
	return []string{"-nodisp", "-autoexit", "-loglevel", "error",
		"-volume", strconv.Itoa(int(math.Round(volume * 100))), "-ss", ss, path}
}

func (p *ExecPlayer) canSeek() bool { return p.kind() != "afplay" }

// Load checks src and probes its duration. An unknown duration is 0.
func (p *ExecPlayer) Load(ctx context.Context, src Source) error {
	info, err := os.Stat(src.Path)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("playback: %s is a directory", src.Path)
	}

	_ = p.Stop()
	duration := p.probeDuration(ctx, src)

	p.mu.Lock()
	p.src = src
	p.loaded = true
	p.duration = duration
	p.offset = 0
	p.mu.Unlock()
	slog.Debug("[playback] external player loaded", "player", p.bin, "path", src.Path, "seconds", duration)
	return nil
}

func (p *ExecPlayer) probeDuration(ctx context.Context, src Source) float64 {
	if audio.IsWAV(src.MimeType) {
		if data, err := os.ReadFile(src.Path); err == nil {
			if d, err := audio.WAVDuration(data); err == nil {
				return d
			}
		}
	}
	out, err := p.command(ctx, p.probeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		src.Path,
	).Output()
	if err != nil {
		slog.Debug("[playback] duration probe failed", "path", src.Path, "error", err)
		return 0
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || math.IsInf(d, 0) || math.IsNaN(d) || d <= 0 {
		return 0
	}
	return d
}

// Play starts the player process at startSec, or resumes when negative.
func (p *ExecPlayer) Play(startSec float64) error {
	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		return ErrNotLoaded
	}
	if p.duration > 0 && p.offset >= p.duration {
		p.offset = 0
	}
	if startSec < 0 && p.playing {
		p.mu.Unlock()
		return nil
	}
	if startSec >= 0 {
		p.offset = clampPosition(startSec, p.duration)
	}
	if p.playing {
		p.killLocked()
	}
	err := p.spawnLocked()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.events.emit(EventPlay, p.State())
	return nil
}

// spawnLocked starts the player at p.offset. p.mu must be held.
func (p *ExecPlayer) spawnLocked() error {
	if !p.canSeek() {
		p.offset = 0
	}
	cmd := p.command(context.Background(), p.bin, p.args(p.src.Path, p.offset, p.volume)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("playback: starting %s: %w", p.bin, err)
	}
	p.gen++
	p.cmd = cmd
	p.playing = true
	p.startedAt = p.now()
	p.stopTick = make(chan struct{})
	go ticker(timeUpdateInterval, p.stopTick, func() { p.events.emit(EventTimeUpdate, p.State()) })
	go p.wait(cmd, p.gen, &stderr)
	return nil
}

// wait reaps the process. Exits caused by pause, stop or seek bump gen
// first and are ignored here.
func (p *ExecPlayer) wait(cmd *exec.Cmd, gen int, stderr *strings.Builder) {
	err := cmd.Wait()

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.cmd = nil
	close(p.stopTick)
	if err == nil && p.duration > 0 {
		p.offset = p.duration
	} else if err == nil {
		p.offset = 0
	}
	p.mu.Unlock()

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		s := p.State()
		s.Err = fmt.Errorf("playback: %s: %s", filepath.Base(p.bin), msg)
		slog.Error("[playback] external player failed", "error", s.Err)
		p.events.emit(EventError, s)
		return
	}
	p.events.emit(EventEnded, p.State())
}

// killLocked ends the running process without reporting its exit.
// p.mu must be held.
func (p *ExecPlayer) killLocked() {
	if !p.playing {
		return
	}
	p.offset = p.positionLocked()
	p.gen++
	p.playing = false
	close(p.stopTick)
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.cmd = nil
}

func (p *ExecPlayer) positionLocked() float64 {
	if !p.playing {
		return p.offset
	}
	return clampPosition(p.offset+p.now().Sub(p.startedAt).Seconds(), p.duration)
}

// Pause stops the process and remembers the position.
func (p *ExecPlayer) Pause() error {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return nil
	}
	p.killLocked()
	p.mu.Unlock()
	p.events.emit(EventPause, p.State())
	return nil
}

// Stop ends playback and rewinds.
func (p *ExecPlayer) Stop() error {
	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		return nil
	}
	p.killLocked()
	p.offset = 0
	p.mu.Unlock()
	p.events.emit(EventStop, p.State())
	return nil
}

// Seek moves the play head, restarting the process when playing.
func (p *ExecPlayer) Seek(sec float64) error {
	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		return ErrNotLoaded
	}
	wasPlaying := p.playing
	p.killLocked()
	p.offset = clampPosition(sec, p.duration)
	var err error
	if wasPlaying {
		err = p.spawnLocked()
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.events.emit(EventTimeUpdate, p.State())
	return nil
}

// SetVolume sets the gain. The player reads it at launch, so a running
// process is restarted at the current position.
func (p *ExecPlayer) SetVolume(v float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v = clampVolume(v)
	if v == p.volume {
		return nil
	}
	p.volume = v
	if !p.playing {
		return nil
	}
	p.killLocked()
	return p.spawnLocked()
}

func (p *ExecPlayer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Source:   p.src,
		Loaded:   p.loaded,
		Playing:  p.playing,
		Position: p.positionLocked(),
		Duration: p.duration,
		Volume:   p.volume,
		Engine:   capture.KindLegacy,
	}
}

func (p *ExecPlayer) Subscribe(fn Listener) func() { return p.events.subscribe(fn) }

// Close stops any running process.
func (p *ExecPlayer) Close() error {
	p.mu.Lock()
	p.killLocked()
	p.loaded = false
	p.mu.Unlock()
	return nil
}
