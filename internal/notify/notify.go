// Package notify surfaces user-visible messages. Every failure in the
// recording and transcription pipeline ends up here so that no operation
// fails silently.
package notify

import (
	"errors"
	"log/slog"

	"github.com/gen2brain/beeep"
)

// Notifier shows short messages to the user.
type Notifier interface {
	Info(title, message string)
	Error(title string, err error)
}

// Desktop shows notifications through the OS notification center and logs
// every message as well.
type Desktop struct {
	appName string
	send    func(title, message string) error
}

// Compile-time interface satisfaction check.
var _ Notifier = (*Desktop)(nil)

// NewDesktop creates a desktop notifier.
func NewDesktop(appName string) *Desktop {
	return &Desktop{
		appName: appName,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// Info shows an informational notification.
func (d *Desktop) Info(title, message string) {
	slog.Info("[notify] "+title, "message", message)
	d.show(title, message)
}

// Error shows an error notification.
func (d *Desktop) Error(title string, err error) {
	msg := Message(err)
	slog.Error("[notify] "+title, "error", err)
	d.show(title, msg)
}

func (d *Desktop) show(title, message string) {
	if d.appName != "" {
		title = d.appName + ": " + title
	}
	if err := d.send(title, message); err != nil {
		slog.Warn("[notify] desktop notification failed", "error", err)
	}
}

// Log only writes messages to the structured log. It backs the notifier
// when desktop notifications are disabled.
type Log struct{}

var _ Notifier = Log{}

func (Log) Info(title, message string) {
	slog.Info("[notify] "+title, "message", message)
}

func (Log) Error(title string, err error) {
	slog.Error("[notify] "+title, "error", err)
}

// Hinter is implemented by errors carrying an actionable hint for the user.
type Hinter interface {
	Hint() string
}

// Message renders err for display, appending its hint when it has one.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var h Hinter
	if errors.As(err, &h) && h.Hint() != "" {
		msg += "\n" + h.Hint()
	}
	return msg
}
