// Package share hands a note to the outside world: its transcript through
// the system clipboard and its audio as an exported file.
package share

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-vgo/robotgo"

	"github.com/chaz8081/gostt-notes/internal/capture"
	"github.com/chaz8081/gostt-notes/internal/notify"
	"github.com/chaz8081/gostt-notes/internal/store"
)

// ErrShare marks every share or export failure.
var ErrShare = errors.New("share failed")

// NoteGetter looks up notes by id.
type NoteGetter interface {
	GetNoteByID(ctx context.Context, id string) (*store.Note, error)
}

// AudioLoader reads stored audio back by ref.
type AudioLoader interface {
	LoadAudio(ctx context.Context, ref string) ([]byte, string, error)
}

// Sharer copies transcripts and exports audio. Failures are reported
// through the notifier and returned wrapped in ErrShare.
type Sharer struct {
	notes    NoteGetter
	audio    AudioLoader
	notifier notify.Notifier

	// readClipboard and writeClipboard wrap robotgo; tests replace them.
	readClipboard  func() (string, error)
	writeClipboard func(text string) error
}

// New creates a Sharer backed by the system clipboard.
func New(notes NoteGetter, audio AudioLoader, notifier notify.Notifier) *Sharer {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Sharer{
		notes:          notes,
		audio:          audio,
		notifier:       notifier,
		readClipboard:  robotgo.ReadAll,
		writeClipboard: robotgo.WriteAll,
	}
}

// Text renders a note the way it is shared: title, blank line, transcript.
func Text(n *store.Note) string {
	content := strings.TrimSpace(n.Content)
	if content == "" {
		return n.Title
	}
	return n.Title + "\n\n" + content
}

// ShareText copies the note's title and transcript to the clipboard and
// returns the copied text.
func (s *Sharer) ShareText(ctx context.Context, noteID string) (string, error) {
	n, err := s.notes.GetNoteByID(ctx, noteID)
	if err != nil {
		return "", s.fail(fmt.Errorf("loading note %s: %w", noteID, err))
	}
	text := Text(n)

	if err := s.writeClipboard(text); err != nil {
		return "", s.fail(fmt.Errorf("writing clipboard: %w", err))
	}
	// Some clipboard backends accept the write and drop it silently.
	if got, err := s.readClipboard(); err == nil && got != text {
		return "", s.fail(errors.New("clipboard did not keep the shared text"))
	}
	s.notifier.Info("Copied to clipboard", n.Title)
	return text, nil
}

// Download exports the note's audio to dest and returns the written path.
// When dest is an existing directory the file is named after the note.
func (s *Sharer) Download(ctx context.Context, noteID, dest string) (string, error) {
	n, err := s.notes.GetNoteByID(ctx, noteID)
	if err != nil {
		return "", s.fail(fmt.Errorf("loading note %s: %w", noteID, err))
	}
	if n.AudioURL == "" {
		return "", s.fail(fmt.Errorf("note %s has no audio", noteID))
	}

	blob, mime, err := s.audio.LoadAudio(ctx, n.AudioURL)
	if err != nil {
		return "", s.fail(fmt.Errorf("loading audio: %w", err))
	}

	path := dest
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		path = filepath.Join(dest, FileName(n.Title, n.ID)+"."+capture.Extension(mime))
	}
	if err := writeFile(path, blob); err != nil {
		return "", s.fail(err)
	}
	s.notifier.Info("Audio exported", path)
	return path, nil
}

func (s *Sharer) fail(err error) error {
	err = fmt.Errorf("share: %w: %w", ErrShare, err)
	s.notifier.Error("Share failed", err)
	return err
}

// FileName turns a note title into a safe file stem, falling back to id
// when nothing usable is left.
func FileName(title, id string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	if name == "" {
		return id
	}
	return name
}

// writeFile writes data next to path and renames it into place.
func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating export dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persisting export: %w", err)
	}
	return nil
}
