package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/gostt-notes/internal/config"
	"github.com/chaz8081/gostt-notes/internal/flags"
	"github.com/chaz8081/gostt-notes/internal/logging"
	"github.com/chaz8081/gostt-notes/internal/models"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gostt-notes/config.yaml)")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	list := flag.Bool("list", false, "list saved notes and exit")
	play := flag.String("play", "", "play the audio of the note with this id")
	retranscribe := flag.String("retranscribe", "", "transcribe the note with this id again")
	shareID := flag.String("share", "", "copy the note with this id to the clipboard")
	export := flag.String("export", "", "export the audio of the note with this id")
	out := flag.String("o", ".", "destination file or directory for -export")
	downloadModel := flag.Bool("download-model", false, "download the configured whisper model and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init-config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	// The debug flag does not depend on the install id.
	logCloser, err := logging.Setup(cfg, flags.NewStore(cfg.Flags, ""))
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *downloadModel {
		tc := cfg.Transcribe
		manifest := models.WhisperManifest(tc.ModelBaseURL, tc.Model, tc.Multilingual, tc.Quantized)
		if err := models.NewManager(tc.ModelsDir).Download(ctx, manifest, os.Stdout); err != nil {
			log.Fatalf("download-model: %v", err)
		}
		return
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	var runErr error
	switch {
	case *list:
		runErr = a.listNotes(ctx, os.Stdout)
	case *play != "":
		runErr = a.playNote(ctx, *play)
	case *retranscribe != "":
		runErr = a.retranscribeNote(ctx, *retranscribe, os.Stdout)
	case *shareID != "":
		runErr = a.shareNote(ctx, *shareID, os.Stdout)
	case *export != "":
		runErr = a.exportNote(ctx, *export, *out, os.Stdout)
	default:
		printBanner(cfg, a)
		// Exits the process directly; see runDaemon.
		a.runDaemon(ctx)
	}

	a.Close()
	if runErr != nil {
		slog.Error("[app] command failed", "error", runErr)
		logCloser.Close()
		os.Exit(1)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, a *app) {
	fmt.Println("=== gostt-notes ===")
	fmt.Printf("  Backend:  %s (model %s, %s)\n", cfg.Transcribe.Backend, cfg.Transcribe.Model, cfg.Transcribe.Subtask)
	fmt.Printf("  Record:   %s (%s mode)\n", strings.Join(cfg.Hotkey.Record, "+"), cfg.Hotkey.Mode)
	fmt.Printf("  Pause:    %s\n", strings.Join(cfg.Hotkey.Pause, "+"))
	fmt.Printf("  Cancel:   %s\n", strings.Join(cfg.Hotkey.Cancel, "+"))
	fmt.Printf("  Audio:    %dHz, %dch\n", cfg.Audio.SampleRate, cfg.Audio.Channels)
	fmt.Printf("  Storage:  %s\n", a.storageKind)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("===================")
}
