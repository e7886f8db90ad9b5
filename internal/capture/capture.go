// Package capture provides the two microphone capture engines behind a
// single Engine interface: a modern in-process engine built on miniaudio
// (malgo) and a legacy engine that runs ffmpeg as an encoding recorder.
package capture

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Kind identifies a capture or playback engine implementation.
type Kind string

const (
	KindModern Kind = "modern"
	KindLegacy Kind = "legacy"
)

// Normalized capture failures.
var (
	// ErrPermissionDenied means the OS refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable means no usable input device exists.
	ErrDeviceUnavailable = errors.New("no microphone available")
	// ErrUnsupported means no recording primitive exists on this host.
	ErrUnsupported = errors.New("audio recording is not supported on this system")
	// ErrPauseUnsupported is returned by engines without native pause.
	ErrPauseUnsupported = errors.New("engine does not support native pause")
)

// Constraints describe the requested microphone stream. The defaults are
// tuned for voice.
type Constraints struct {
	SampleRate       uint32
	Channels         uint32
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
	// Timeslice is how often buffered audio is emitted as a chunk.
	Timeslice time.Duration
}

// VoiceConstraints returns mono 22.05 kHz with all voice processing on.
func VoiceConstraints() Constraints {
	return Constraints{
		SampleRate:       22050,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGain:         true,
		Timeslice:        time.Second,
	}
}

// Sink receives engine output. OnChunk is called in capture order and never
// concurrently with itself. OnError reports a failure after Start returned.
type Sink interface {
	OnChunk(data []byte)
	OnError(err error)
}

// Engine is one capture implementation.
type Engine interface {
	Kind() Kind
	MimeType() string
	SupportsNativePause() bool
	// Start opens the microphone and begins emitting chunks to sink.
	Start(ctx context.Context, c Constraints, sink Sink) error
	Pause() error
	Resume() error
	// RequestData emits whatever is buffered as a chunk right away.
	RequestData() error
	// Stop ends capture, emits the tail and releases the microphone.
	Stop() error
	// Cancel ends capture immediately, dropping buffered audio.
	Cancel() error
	// Finalize turns the concatenated chunks into the stored artifact.
	Finalize(data []byte) ([]byte, error)
	// Close releases engine-level resources.
	Close() error
}

// ClassifyDeviceError maps backend error text onto the capture taxonomy.
// Errors that match nothing are returned unchanged.
func ClassifyDeviceError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrUnsupported) {
		return err
	}
	return classifyText(err.Error(), err)
}

func classifyText(text string, err error) error {
	msg := strings.ToLower(text)
	switch {
	case strings.Contains(msg, "permission"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "operation not permitted"):
		return joinCause(ErrPermissionDenied, err)
	case strings.Contains(msg, "no device"),
		strings.Contains(msg, "no such device"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "input/output error"),
		strings.Contains(msg, "connection refused"):
		return joinCause(ErrDeviceUnavailable, err)
	}
	return err
}

func joinCause(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &deviceError{kind: kind, cause: cause}
}

type deviceError struct {
	kind  error
	cause error
}

func (e *deviceError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }

func (e *deviceError) Unwrap() []error { return []error{e.kind, e.cause} }
