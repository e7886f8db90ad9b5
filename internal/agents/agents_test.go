package agents

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/gostt-notes/internal/config"
)

// TestHelperProcess is not a real test. It stands in for the agent command
// when GOSTT_AGENT_HELPER is set.
func TestHelperProcess(t *testing.T) {
	switch os.Getenv("GOSTT_AGENT_HELPER") {
	case "":
		return
	case "ok":
		if os.Getenv("GOSTT_NOTE_ID") == "" {
			os.Exit(3)
		}
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "agent exploded")
		os.Exit(1)
	case "hang":
		time.Sleep(10 * time.Second)
		os.Exit(0)
	}
	os.Exit(2)
}

func helperCommand(t *testing.T, mode string, gotArgs *[]string) *Command {
	t.Helper()
	c := NewCommand("summarize --fast")
	c.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if gotArgs != nil {
			*gotArgs = append([]string{name}, args...)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GOSTT_AGENT_HELPER="+mode)
		return cmd
	}
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AgentsConfig
		wantRun bool
	}{
		{"disabled", config.AgentsConfig{}, false},
		{"auto run without command", config.AgentsConfig{AutoRun: true, Command: "  "}, false},
		{"command without auto run", config.AgentsConfig{Command: "summarize"}, false},
		{"enabled", config.AgentsConfig{AutoRun: true, Command: "summarize"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.cfg).CanRunAnyAgents(); got != tt.wantRun {
				t.Errorf("CanRunAnyAgents() = %v, want %v", got, tt.wantRun)
			}
		})
	}
}

func TestDisabledIsNoop(t *testing.T) {
	if err := (Disabled{}).ProcessNoteWithAllAutoAgents(context.Background(), "n1"); err != nil {
		t.Errorf("ProcessNoteWithAllAutoAgents() error = %v", err)
	}
}

func TestCommandPassesNoteID(t *testing.T) {
	var args []string
	c := helperCommand(t, "ok", &args)
	if err := c.ProcessNoteWithAllAutoAgents(context.Background(), "note-42"); err != nil {
		t.Fatalf("ProcessNoteWithAllAutoAgents() error = %v", err)
	}
	want := []string{"summarize", "--fast", "note-42"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("command = %v, want %v", args, want)
	}
}

func TestCommandFailureIncludesOutput(t *testing.T) {
	c := helperCommand(t, "fail", nil)
	err := c.ProcessNoteWithAllAutoAgents(context.Background(), "n1")
	if err == nil {
		t.Fatal("expected error from failing agent")
	}
	if !strings.Contains(err.Error(), "agent exploded") {
		t.Errorf("error = %v, want agent output included", err)
	}
}

func TestCommandTimeout(t *testing.T) {
	c := helperCommand(t, "hang", nil)
	c.timeout = 100 * time.Millisecond

	start := time.Now()
	if err := c.ProcessNoteWithAllAutoAgents(context.Background(), "n1"); err == nil {
		t.Fatal("expected error from timed out agent")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}
