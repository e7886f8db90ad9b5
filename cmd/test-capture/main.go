// Command test-capture is a manual probe for the capture stack. It prints
// what the capability prober finds, which engine the hybrid recorder picks
// and the negotiated MIME type, then optionally records a short clip.
//
// Usage:
//
//	go run ./cmd/test-capture [--record 3s] [--o clip] [--legacy]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/gostt-notes/internal/capability"
	"github.com/chaz8081/gostt-notes/internal/capture"
	"github.com/chaz8081/gostt-notes/internal/config"
	"github.com/chaz8081/gostt-notes/internal/flags"
	"github.com/chaz8081/gostt-notes/internal/recorder"
)

func main() {
	record := flag.Duration("record", 0, "record for this long after probing (0 = probe only)")
	out := flag.String("o", "capture-test", "output file name without extension")
	legacy := flag.Bool("legacy", false, "force the ffmpeg engine")
	ffmpegBin := flag.String("ffmpeg", "ffmpeg", "ffmpeg binary for the legacy engine")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prober := capability.New(*ffmpegBin)
	fmt.Println("=== capabilities ===")
	fmt.Printf("  Modern capture:   %v\n", prober.SupportsModernEngine(ctx))
	fmt.Printf("  Modern playback:  %v\n", prober.SupportsModernPlayback(ctx))
	fmt.Printf("  Legacy (ffmpeg):  %v\n", prober.SupportsLegacyEngine())
	fmt.Printf("  Encoders:         %s\n", strings.Join(prober.SupportedMimeTypes(ctx), ", "))
	fmt.Printf("  Apple platform:   %v\n", prober.IsSafari())
	fmt.Printf("  iOS:              %v\n", prober.IsIOS())

	cfg := config.Default()
	cfg.Flags.ModernEngine.Recording = !*legacy
	constraints := capture.VoiceConstraints()

	rec := recorder.New(recorder.Options{
		Flags:       flags.NewStore(cfg.Flags, "test-capture"),
		Prober:      prober,
		Constraints: constraints,
		NewModern: func() (capture.Engine, error) {
			e, err := capture.NewMalgoEngine()
			if err != nil {
				return nil, err
			}
			return e, nil
		},
		NewLegacy: func(mime string) (capture.Engine, error) {
			e, err := capture.NewFFmpegEngine(capture.FFmpegOptions{Bin: *ffmpegBin}, mime)
			if err != nil {
				return nil, err
			}
			return e, nil
		},
		OnEngineError: func(err error) {
			fmt.Fprintf(os.Stderr, "engine error: %v\n", err)
		},
	})
	defer rec.Close()

	if err := rec.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "initialize: %v\n", err)
		os.Exit(1)
	}
	st := rec.State()
	fmt.Println("=== recorder ===")
	fmt.Printf("  Engine:        %s\n", st.EngineUsed)
	fmt.Printf("  MIME type:     %s\n", st.MimeType)
	fmt.Printf("  Native pause:  %v\n", st.SupportsNativePause)

	if *record <= 0 {
		return
	}

	if err := rec.StartRecording(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recording for %s...\n", *record)
	select {
	case <-time.After(*record):
	case <-ctx.Done():
	}

	res, err := rec.StopRecording(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "stop: %v\n", err)
		os.Exit(1)
	}
	path := *out + "." + capture.Extension(res.MimeType)
	if err := os.WriteFile(path, res.AudioBlob, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (%.1fs, %d bytes, %s)\n", path, res.DurationSeconds, len(res.AudioBlob), res.EngineUsed)
}
