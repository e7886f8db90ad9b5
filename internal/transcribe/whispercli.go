package transcribe

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/chaz8081/gostt-notes/internal/audio"
	"github.com/chaz8081/gostt-notes/internal/models"
)

// segmentLine matches whisper-cli output: "[00:00:01.000 --> 00:00:03.500]  text".
var segmentLine = regexp.MustCompile(`^\[(\d+):(\d+):(\d+(?:\.\d+)?) --> (\d+):(\d+):(\d+(?:\.\d+)?)\]\s*(.*)$`)

// WhisperCLI runs the whisper.cpp command-line binary on a temp WAV file
// and streams its segment lines.
type WhisperCLI struct {
	bin     string
	models  *models.Manager
	baseURL string
	threads int

	// command builds the child process; tests replace it.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd

	mu        sync.Mutex
	modelPath string
	modelID   string
}

// Compile-time interface satisfaction check.
var _ Backend = (*WhisperCLI)(nil)

// NewWhisperCLI returns a backend that downloads ggml models through mgr.
func NewWhisperCLI(bin string, mgr *models.Manager, baseURL string) *WhisperCLI {
	if bin == "" {
		bin = "whisper-cli"
	}
	threads := runtime.NumCPU()
	if threads > 8 {
		threads = 8
	}
	return &WhisperCLI{
		bin:     bin,
		models:  mgr,
		baseURL: baseURL,
		threads: threads,
		command: exec.CommandContext,
	}
}

// Load downloads the ggml model for s if it is missing.
func (w *WhisperCLI) Load(ctx context.Context, s Settings, progress func(models.Event)) error {
	manifest := models.WhisperManifest(w.baseURL, s.Model, s.Multilingual, s.Quantized)

	w.mu.Lock()
	loaded := w.modelID == manifest.ID && w.modelPath != ""
	w.mu.Unlock()
	if loaded {
		return nil
	}

	paths, err := w.models.Ensure(ctx, manifest, progress)
	if err != nil {
		return fmt.Errorf("transcribe: loading model %s: %w", manifest.ID, err)
	}

	w.mu.Lock()
	w.modelID = manifest.ID
	w.modelPath = paths[0]
	w.mu.Unlock()
	slog.Info("[transcribe] whisper model ready", "model", manifest.ID, "path", paths[0])
	return nil
}

func (w *WhisperCLI) args(model, wavPath string, s Settings) []string {
	lang := s.Language
	if lang == "" {
		lang = "auto"
	}
	args := []string{"-m", model, "-f", wavPath, "-l", lang, "-t", strconv.Itoa(w.threads)}
	if s.Subtask == "translate" {
		args = append(args, "-tr")
	}
	return args
}

// Transcribe writes samples to a temp WAV and runs whisper-cli on it.
func (w *WhisperCLI) Transcribe(ctx context.Context, samples []float32, s Settings, onSegment func(Chunk)) ([]Chunk, error) {
	w.mu.Lock()
	model := w.modelPath
	w.mu.Unlock()
	if model == "" {
		return nil, fmt.Errorf("transcribe: whisper model not loaded")
	}

	tmpDir, err := os.MkdirTemp("", "gostt-notes-stt-*")
	if err != nil {
		return nil, fmt.Errorf("transcribe: creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "input.wav")
	if err := audio.EncodeFloatWAV(wavPath, samples, audio.ModelSampleRate); err != nil {
		return nil, fmt.Errorf("transcribe: writing input wav: %w", err)
	}

	cmd := w.command(ctx, w.bin, w.args(model, wavPath, s)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transcribe: whisper-cli stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transcribe: starting whisper-cli: %w", err)
	}

	var chunks []Chunk
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		c, ok := parseSegment(sc.Text())
		if !ok {
			continue
		}
		chunks = append(chunks, c)
		if onSegment != nil {
			onSegment(c)
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("transcribe: whisper-cli failed: %s: %w", lastLine(stderr.String()), err)
	}
	return chunks, nil
}

// Close is a no-op; whisper-cli holds no state between runs.
func (w *WhisperCLI) Close() error { return nil }

func parseSegment(line string) (Chunk, bool) {
	m := segmentLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Chunk{}, false
	}
	text := strings.TrimSpace(m[7])
	if text == "" || text == "[BLANK_AUDIO]" {
		return Chunk{}, false
	}
	return Chunk{
		Timestamp: [2]float64{clockSeconds(m[1], m[2], m[3]), clockSeconds(m[4], m[5], m[6])},
		Text:      text,
	}, true
}

func clockSeconds(h, m, s string) float64 {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.ParseFloat(s, 64)
	return float64(hh*3600+mm*60) + ss
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
