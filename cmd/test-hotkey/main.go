// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press the record, pause and cancel combos to see events.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--mode hold|toggle] [--config path]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/gostt-notes/internal/config"
	"github.com/chaz8081/gostt-notes/internal/hotkey"
)

func main() {
	mode := flag.String("mode", "", "hotkey mode: hold or toggle (default: from config)")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *mode != "" {
		cfg.Hotkey.Mode = *mode
	}

	bindings := hotkey.Bindings{
		Record: cfg.Hotkey.Record,
		Pause:  cfg.Hotkey.Pause,
		Cancel: cfg.Hotkey.Cancel,
	}
	fmt.Printf("Record: %s (%s mode)\n", strings.Join(bindings.Record, "+"), cfg.Hotkey.Mode)
	fmt.Printf("Pause:  %s\n", strings.Join(bindings.Pause, "+"))
	fmt.Printf("Cancel: %s\n", strings.Join(bindings.Cancel, "+"))
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(bindings, cfg.Hotkey.Mode)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events. The listener is told about state changes the way the
	// daemon does it, so toggle mode alternates start and stop.
	go func() {
		for ev := range listener.Events() {
			switch ev.Type {
			case hotkey.EventStart:
				fmt.Println(">>> START  (recording)")
				listener.SetRecording(true)
			case hotkey.EventStop:
				fmt.Println("<<< STOP   (saved)")
				listener.SetRecording(false)
			case hotkey.EventPause:
				fmt.Println("||  PAUSE  (toggled)")
			case hotkey.EventCancel:
				fmt.Println("xx  CANCEL (discarded)")
				listener.SetRecording(false)
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
