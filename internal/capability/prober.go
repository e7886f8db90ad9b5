// Package capability probes which audio engines, container formats and
// storage backends the host supports. Probes never fail: an unsupported
// feature reports false or an empty list.
package capability

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	_ "modernc.org/sqlite"

	"github.com/chaz8081/gostt-notes/internal/capture"
)

// Prober answers capability queries and caches the expensive ones for the
// lifetime of the process.
type Prober struct {
	ffmpegBin string

	// Hooks replaced in tests.
	probeDevices func(ctx context.Context, kind malgo.DeviceType) (int, error)
	listEncoders func(ctx context.Context, bin string) ([]byte, error)
	lookPath     func(file string) (string, error)
	goos         string

	captureOnce sync.Once
	captureOK   bool
	playOnce    sync.Once
	playOK      bool
	mimeOnce    sync.Once
	mimes       []string
}

// New returns a Prober that uses ffmpegBin for the legacy engine.
func New(ffmpegBin string) *Prober {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &Prober{
		ffmpegBin:    ffmpegBin,
		probeDevices: malgoDeviceCount,
		listEncoders: ffmpegEncoders,
		lookPath:     exec.LookPath,
		goos:         runtime.GOOS,
	}
}

// SupportsModernEngine reports whether a miniaudio context initializes and
// at least one capture device is present.
func (p *Prober) SupportsModernEngine(ctx context.Context) bool {
	p.captureOnce.Do(func() {
		n, err := p.probeDevices(ctx, malgo.Capture)
		if err != nil {
			slog.Debug("[capability] modern capture probe failed", "error", err)
			return
		}
		p.captureOK = n > 0
		slog.Debug("[capability] modern capture probe", "devices", n)
	})
	return p.captureOK
}

// SupportsModernPlayback reports whether a playback device is present.
func (p *Prober) SupportsModernPlayback(ctx context.Context) bool {
	p.playOnce.Do(func() {
		n, err := p.probeDevices(ctx, malgo.Playback)
		if err != nil {
			slog.Debug("[capability] modern playback probe failed", "error", err)
			return
		}
		p.playOK = n > 0
	})
	return p.playOK
}

// SupportsLegacyEngine reports whether the ffmpeg binary is on PATH.
func (p *Prober) SupportsLegacyEngine() bool {
	_, err := p.lookPath(p.ffmpegBin)
	return err == nil
}

// SupportedMimeTypes lists the container types the legacy engine can
// produce, in the same fixed order as the default fallback list. audio/wav
// is included whenever ffmpeg is usable.
func (p *Prober) SupportedMimeTypes(ctx context.Context) []string {
	p.mimeOnce.Do(func() {
		if !p.SupportsLegacyEngine() {
			return
		}
		out, err := p.listEncoders(ctx, p.ffmpegBin)
		if err != nil {
			slog.Debug("[capability] listing ffmpeg encoders failed", "error", err)
			return
		}
		p.mimes = mimesFromEncoders(out)
	})
	return append([]string(nil), p.mimes...)
}

// SupportsNativePause reports whether the engine kind can pause capture.
// The legacy ffmpeg engine keeps capturing while a session is paused.
func (p *Prober) SupportsNativePause(kind capture.Kind) bool {
	return kind == capture.KindModern
}

// IsIOS reports whether the host is iOS.
func (p *Prober) IsIOS() bool { return p.goos == "ios" }

// IsSafari reports whether the host is an Apple platform, where the native
// capture input produces AAC rather than opus.
func (p *Prober) IsSafari() bool { return p.goos == "darwin" || p.IsIOS() }

// SupportsFileStorage reports whether dir exists (or can be created) and is
// writable.
func (p *Prober) SupportsFileStorage(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// SupportsSQLite reports whether a SQLite database can be opened at path.
func (p *Prober) SupportsSQLite(path string) bool {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return false
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return false
	}
	defer db.Close()
	return db.Ping() == nil
}

// mimesFromEncoders maps `ffmpeg -encoders` output onto container types.
func mimesFromEncoders(out []byte) []string {
	have := map[string]bool{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		// Encoder lines look like " A....D libopus   libopus Opus".
		if len(fields) < 2 || len(fields[0]) != 6 || fields[0][0] != 'A' {
			continue
		}
		switch fields[1] {
		case "libopus", "opus":
			have[capture.MimeWebmOpus] = true
			have[capture.MimeOggOpus] = true
		case "aac", "aac_at", "libfdk_aac":
			have[capture.MimeMP4] = true
			have[capture.MimeAAC] = true
		case "pcm_s16le":
			have[capture.MimeWAV] = true
		}
	}
	// wav needs no external codec
	have[capture.MimeWAV] = true

	var mimes []string
	for _, m := range capture.FallbackOrder(false) {
		if have[m] {
			mimes = append(mimes, m)
		}
	}
	return mimes
}

func malgoDeviceCount(_ context.Context, kind malgo.DeviceType) (int, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()
	devices, err := ctx.Devices(kind)
	if err != nil {
		return 0, err
	}
	return len(devices), nil
}

func ffmpegEncoders(ctx context.Context, bin string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, "-hide_banner", "-encoders").Output()
}
