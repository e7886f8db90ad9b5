package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/chaz8081/gostt-notes/internal/config"
	"github.com/chaz8081/gostt-notes/internal/models"
)

// Backend converts mono 16 kHz samples to text.
type Backend interface {
	// Load makes the model for s available, reporting model file progress.
	Load(ctx context.Context, s Settings, progress func(models.Event)) error
	// Transcribe runs the model. onSegment receives segments as they are
	// produced; the returned chunks are the complete transcript.
	Transcribe(ctx context.Context, samples []float32, s Settings, onSegment func(Chunk)) ([]Chunk, error)
	// Close releases backend resources.
	Close() error
}

// New creates a Backend based on the config backend setting.
func New(cfg *config.TranscribeConfig) (Backend, error) {
	switch cfg.Backend {
	case "whisper-cli", "":
		return NewWhisperCLI(cfg.WhisperBin, models.NewManager(cfg.ModelsDir), cfg.ModelBaseURL), nil
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("transcribe: unknown backend %q (supported: whisper-cli, openai)", cfg.Backend)
	}
}

// SettingsFromConfig snapshots the transcription settings.
func SettingsFromConfig(cfg *config.TranscribeConfig) Settings {
	return Settings{
		Model:        cfg.Model,
		Multilingual: cfg.Multilingual,
		Quantized:    cfg.Quantized,
		Subtask:      cfg.Subtask,
		Language:     cfg.Language,
	}
}

// JoinChunks concatenates chunk text into one transcript.
func JoinChunks(chunks []Chunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
