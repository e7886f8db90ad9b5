package notify

import (
	"errors"
	"strings"
	"testing"
)

type hintErr struct{}

func (hintErr) Error() string { return "worker crashed" }
func (hintErr) Hint() string  { return "try a smaller model" }

func TestMessageAppendsHint(t *testing.T) {
	got := Message(hintErr{})
	if !strings.Contains(got, "worker crashed") || !strings.Contains(got, "try a smaller model") {
		t.Errorf("Message() = %q, want error and hint", got)
	}
	if Message(nil) != "" {
		t.Error("Message(nil) should be empty")
	}
}

func TestDesktopPrefixesTitleAndSwallowsSendErrors(t *testing.T) {
	var titles []string
	d := NewDesktop("gostt-notes")
	d.send = func(title, message string) error {
		titles = append(titles, title)
		return errors.New("no notification daemon")
	}

	d.Info("Saved", "note created")
	d.Error("Recording failed", errors.New("boom"))

	if len(titles) != 2 {
		t.Fatalf("send called %d times, want 2", len(titles))
	}
	if titles[0] != "gostt-notes: Saved" {
		t.Errorf("title = %q, want prefixed", titles[0])
	}
}
