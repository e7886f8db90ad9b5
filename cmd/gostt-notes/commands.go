package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chaz8081/gostt-notes/internal/playback"
)

// listNotes prints every note, newest first.
func (a *app) listNotes(ctx context.Context, w io.Writer) error {
	notes, err := a.db.ListNotes(ctx)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Fprintln(w, "No notes yet.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tLENGTH\tTITLE")
	for _, n := range notes {
		length := time.Duration(n.Duration * float64(time.Second)).Round(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.CreatedAt.Local().Format("2006-01-02 15:04"), length, n.Title)
	}
	return tw.Flush()
}

// playNote plays a note's audio and blocks until it ends, fails or ctx
// is cancelled.
func (a *app) playNote(ctx context.Context, noteID string) error {
	note, err := a.db.GetNoteByID(ctx, noteID)
	if err != nil {
		return err
	}
	if note.AudioURL == "" {
		return fmt.Errorf("note %s has no audio", noteID)
	}

	done := make(chan error, 1)
	unsubscribe := a.playback.Subscribe(func(ev playback.Event, s playback.Session) {
		switch ev {
		case playback.EventEnded:
			select {
			case done <- nil:
			default:
			}
		case playback.EventError:
			select {
			case done <- errors.New("playback failed"):
			default:
			}
		}
	})
	defer unsubscribe()

	if err := a.playback.PlayAudio(ctx, note.AudioURL, note.Duration); err != nil {
		return err
	}
	if err := a.playback.SetVolume(a.cfg.Playback.Volume); err != nil {
		slog.Warn("[app] setting volume", "error", err)
	}

	if s, ok := a.playback.Session(); ok {
		fmt.Printf("Playing %q (%.1fs, %s engine). Ctrl+C to stop.\n", note.Title, s.Duration, s.Engine)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return a.playback.Stop()
	}
}

// retranscribeNote runs an explicit transcription and prints progress
// and the final transcript.
func (a *app) retranscribeNote(ctx context.Context, noteID string, w io.Writer) error {
	jobs, unsubscribe := a.coord.Subscribe()
	defer unsubscribe()

	jobID, err := a.coord.Retranscribe(ctx, noteID)
	if err != nil {
		a.notifier.Error("Transcription failed", err)
		return err
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		last := ""
		for j := range jobs {
			if j.ID != jobID {
				continue
			}
			if line := describeJob(j); line != last {
				fmt.Fprintf(w, "\r\033[K%s", truncate(line, 76))
				last = line
			}
		}
	}()

	_, err = a.coord.Wait(ctx, jobID)
	unsubscribe()
	<-printed
	fmt.Fprintln(w)
	if err != nil {
		return err
	}
	note, err := a.db.GetNoteByID(ctx, noteID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n\n%s\n", note.Title, note.Content)
	a.coord.WaitAgents()
	return nil
}

// shareNote copies a note to the clipboard.
func (a *app) shareNote(ctx context.Context, noteID string, w io.Writer) error {
	text, err := a.sharer.ShareText(ctx, noteID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Copied %d characters to the clipboard.\n", len([]rune(text)))
	return nil
}

// exportNote writes a note's audio to dest.
func (a *app) exportNote(ctx context.Context, noteID, dest string, w io.Writer) error {
	path, err := a.sharer.Download(ctx, noteID, dest)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Exported audio to %s\n", path)
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
