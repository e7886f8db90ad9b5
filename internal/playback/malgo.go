package playback

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/chaz8081/gostt-notes/internal/audio"
	"github.com/chaz8081/gostt-notes/internal/capture"
)

// playbackDevice is the subset of *malgo.Device the player drives.
type playbackDevice interface {
	Start() error
	Stop() error
	Uninit()
}

// deviceOpener opens an output device pulling frames from onData.
type deviceOpener func(cfg malgo.DeviceConfig, onData func(out, in []byte, frames uint32)) (playbackDevice, error)

// MalgoPlayer decodes WAV in-process and plays it through a miniaudio
// output device. Position is sample accurate.
type MalgoPlayer struct {
	ctx    *malgo.AllocatedContext
	open   deviceOpener
	events emitter

	mu       sync.Mutex
	device   playbackDevice
	src      Source
	pcm      audio.PCM
	pos      int // frame index
	volume   float64
	playing  bool
	ended    bool
	stopTick chan struct{}
}

// Compile-time interface satisfaction check.
var _ Player = (*MalgoPlayer)(nil)

// NewMalgoPlayer initializes a miniaudio context. Call Close() when done.
func NewMalgoPlayer() (*MalgoPlayer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("playback: initializing audio context: %w", err)
	}
	p := &MalgoPlayer{ctx: ctx, volume: 1}
	p.open = func(cfg malgo.DeviceConfig, onData func(out, in []byte, frames uint32)) (playbackDevice, error) {
		return malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	}
	return p, nil
}

func newMalgoPlayerWithOpener(open deviceOpener) *MalgoPlayer {
	return &MalgoPlayer{open: open, volume: 1}
}

// Load decodes src. Only WAV is supported; the hybrid player routes other
// formats to the external player.
func (p *MalgoPlayer) Load(_ context.Context, src Source) error {
	if !audio.IsWAV(src.MimeType) {
		return fmt.Errorf("playback: %s: %w", src.MimeType, ErrUnsupportedFormat)
	}
	f, err := os.Open(src.Path)
	if err != nil {
		return fmt.Errorf("playback: opening %s: %w", src.Path, err)
	}
	defer f.Close()
	pcm, err := audio.DecodeWAVReader(f)
	if err != nil {
		return fmt.Errorf("playback: decoding %s: %w", src.Path, err)
	}
	if pcm.Frames() == 0 {
		return fmt.Errorf("playback: %s has no audio: %w", src.Path, ErrUnsupportedFormat)
	}

	p.release()
	p.mu.Lock()
	p.src = src
	p.pcm = pcm
	p.pos = 0
	p.ended = false
	p.mu.Unlock()
	slog.Debug("[playback] malgo loaded", "path", src.Path, "seconds", pcm.Duration())
	return nil
}

// Play starts the output device at startSec, or resumes when negative.
func (p *MalgoPlayer) Play(startSec float64) error {
	p.mu.Lock()
	if p.pcm.Frames() == 0 {
		p.mu.Unlock()
		return ErrNotLoaded
	}
	if p.ended || p.pos >= p.pcm.Frames() {
		p.pos = 0
		p.ended = false
	}
	if startSec >= 0 {
		p.pos = p.frameAt(startSec)
	}
	if p.playing {
		p.mu.Unlock()
		return nil
	}
	device := p.device
	channels, rate := len(p.pcm.Channels), p.pcm.SampleRate
	p.mu.Unlock()

	if device == nil {
		cfg := malgo.DefaultDeviceConfig(malgo.Playback)
		cfg.Playback.Format = malgo.FormatF32
		cfg.Playback.Channels = uint32(channels)
		cfg.SampleRate = uint32(rate)
		d, err := p.open(cfg, p.onData)
		if err != nil {
			return fmt.Errorf("playback: initializing output device: %w", err)
		}
		device = d
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		p.mu.Lock()
		p.device = nil
		p.mu.Unlock()
		return fmt.Errorf("playback: starting output device: %w", err)
	}

	p.mu.Lock()
	p.device = device
	p.playing = true
	p.stopTick = make(chan struct{})
	go ticker(timeUpdateInterval, p.stopTick, func() { p.events.emit(EventTimeUpdate, p.State()) })
	p.mu.Unlock()

	p.events.emit(EventPlay, p.State())
	return nil
}

// Pause stops the device and keeps the position.
func (p *MalgoPlayer) Pause() error {
	if !p.halt() {
		return nil
	}
	p.events.emit(EventPause, p.State())
	return nil
}

// Stop halts playback and rewinds to the start.
func (p *MalgoPlayer) Stop() error {
	p.mu.Lock()
	loaded := p.pcm.Frames() > 0
	p.mu.Unlock()
	if !loaded {
		return nil
	}
	p.halt()
	p.mu.Lock()
	p.pos = 0
	p.mu.Unlock()
	p.events.emit(EventStop, p.State())
	return nil
}

// halt stops the device outside the lock since malgo waits for the data
// callback. It reports whether playback was running.
func (p *MalgoPlayer) halt() bool {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return false
	}
	p.playing = false
	device := p.device
	close(p.stopTick)
	p.mu.Unlock()

	if device != nil {
		if err := device.Stop(); err != nil {
			slog.Warn("[playback] stopping output device", "error", err)
		}
	}
	return true
}

// Seek moves the play head.
func (p *MalgoPlayer) Seek(sec float64) error {
	p.mu.Lock()
	if p.pcm.Frames() == 0 {
		p.mu.Unlock()
		return ErrNotLoaded
	}
	p.pos = p.frameAt(sec)
	p.ended = false
	p.mu.Unlock()
	p.events.emit(EventTimeUpdate, p.State())
	return nil
}

func (p *MalgoPlayer) frameAt(sec float64) int {
	sec = clampPosition(sec, p.pcm.Duration())
	return min(int(math.Round(sec*float64(p.pcm.SampleRate))), p.pcm.Frames())
}

// SetVolume scales output samples.
func (p *MalgoPlayer) SetVolume(v float64) error {
	p.mu.Lock()
	p.volume = clampVolume(v)
	p.mu.Unlock()
	return nil
}

func (p *MalgoPlayer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := State{
		Source:  p.src,
		Loaded:  p.pcm.Frames() > 0,
		Playing: p.playing,
		Volume:  p.volume,
		Engine:  capture.KindModern,
	}
	if p.pcm.SampleRate > 0 {
		s.Position = float64(p.pos) / float64(p.pcm.SampleRate)
		s.Duration = p.pcm.Duration()
	}
	return s
}

func (p *MalgoPlayer) Subscribe(fn Listener) func() { return p.events.subscribe(fn) }

// release stops and uninitializes the output device.
func (p *MalgoPlayer) release() {
	p.halt()
	p.mu.Lock()
	device := p.device
	p.device = nil
	p.mu.Unlock()
	if device != nil {
		device.Uninit()
	}
}

// Close releases all audio resources.
func (p *MalgoPlayer) Close() error {
	p.release()
	if p.ctx != nil {
		if err := p.ctx.Uninit(); err != nil {
			return fmt.Errorf("playback: uninitializing audio context: %w", err)
		}
		p.ctx.Free()
		p.ctx = nil
	}
	return nil
}

// onData is the malgo callback filling out with interleaved float32
// frames. Past the end it writes silence and schedules the ended event.
func (p *MalgoPlayer) onData(out, _ []byte, frameCount uint32) {
	p.mu.Lock()
	channels := len(p.pcm.Channels)
	total := p.pcm.Frames()
	vol := float32(p.volume)
	i := 0
	for ; i < int(frameCount) && p.pos < total; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 4
			if off+4 > len(out) {
				break
			}
			binary.LittleEndian.PutUint32(out[off:], math.Float32bits(p.pcm.Channels[c][p.pos]*vol))
		}
		p.pos++
	}
	if rest := i * channels * 4; rest < len(out) {
		clear(out[rest:])
	}
	finished := p.pos >= total && p.playing && !p.ended
	if finished {
		p.ended = true
	}
	p.mu.Unlock()

	if finished {
		// The device cannot be stopped from its own callback.
		go p.finish()
	}
}

func (p *MalgoPlayer) finish() {
	if !p.halt() {
		return
	}
	p.events.emit(EventEnded, p.State())
}
