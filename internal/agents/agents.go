// Package agents runs post-transcription agents on finished notes.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/chaz8081/gostt-notes/internal/config"
)

// DefaultTimeout bounds a single agent run.
const DefaultTimeout = 2 * time.Minute

// Runner processes a note with every auto-run agent.
type Runner interface {
	CanRunAnyAgents() bool
	ProcessNoteWithAllAutoAgents(ctx context.Context, noteID string) error
}

// Compile-time interface satisfaction checks.
var (
	_ Runner = Disabled{}
	_ Runner = (*Command)(nil)
)

// New returns the runner described by cfg.
func New(cfg config.AgentsConfig) Runner {
	if !cfg.AutoRun || strings.TrimSpace(cfg.Command) == "" {
		return Disabled{}
	}
	return NewCommand(cfg.Command)
}

// Disabled never runs anything.
type Disabled struct{}

func (Disabled) CanRunAnyAgents() bool { return false }

func (Disabled) ProcessNoteWithAllAutoAgents(context.Context, string) error { return nil }

// Command runs an external program with the note id as its last argument
// and in GOSTT_NOTE_ID.
type Command struct {
	name    string
	args    []string
	timeout time.Duration

	// command builds the child process; tests replace it.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewCommand parses line into a program and its leading arguments.
func NewCommand(line string) *Command {
	fields := strings.Fields(line)
	c := &Command{timeout: DefaultTimeout, command: exec.CommandContext}
	if len(fields) > 0 {
		c.name = fields[0]
		c.args = fields[1:]
	}
	return c
}

func (c *Command) CanRunAnyAgents() bool { return c.name != "" }

// ProcessNoteWithAllAutoAgents runs the command and waits for it to exit.
func (c *Command) ProcessNoteWithAllAutoAgents(ctx context.Context, noteID string) error {
	if c.name == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string{}, c.args...), noteID)
	cmd := c.command(ctx, c.name, args...)
	cmd.Env = append(cmd.Environ(), "GOSTT_NOTE_ID="+noteID)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("agents: %s for note %s: %w: %s", c.name, noteID, err, strings.TrimSpace(string(out)))
	}
	slog.Info("[agents] agent finished", "command", c.name, "note", noteID, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
