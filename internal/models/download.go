// Package models downloads and caches speech-to-text model files.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Status values reported while loading a model.
const (
	StatusInitiate = "initiate"
	StatusProgress = "progress"
	StatusDone     = "done"
	StatusReady    = "ready"
)

// Event reports per-file download progress. File is empty for the final
// ready event.
type Event struct {
	Status   string
	File     string
	Loaded   int64
	Total    int64
	Progress float64 // percent, 0..100
}

// File is one downloadable model file.
type File struct {
	Name string
	URL  string
}

// Manifest lists every file a model needs.
type Manifest struct {
	ID    string
	Files []File
}

// WhisperFileName returns the ggml file name for a whisper model. English
// only variants exist for every size below large; quantized variants use
// q5_1 for the small sizes and q5_0 for the rest.
func WhisperFileName(model string, multilingual, quantized bool) string {
	name := "ggml-" + model
	large := strings.HasPrefix(model, "large")
	if !multilingual && !large {
		name += ".en"
	}
	if quantized {
		switch model {
		case "tiny", "base", "small":
			name += "-q5_1"
		default:
			name += "-q5_0"
		}
	}
	return name + ".bin"
}

// WhisperManifest returns the manifest for a whisper.cpp ggml model hosted
// under baseURL.
func WhisperManifest(baseURL, model string, multilingual, quantized bool) Manifest {
	name := WhisperFileName(model, multilingual, quantized)
	return Manifest{
		ID:    strings.TrimSuffix(name, ".bin"),
		Files: []File{{Name: name, URL: strings.TrimSuffix(baseURL, "/") + "/" + name}},
	}
}

// Manager downloads manifests into Dir.
type Manager struct {
	Dir    string
	Client *http.Client

	// MinInterval throttles progress events per file.
	MinInterval time.Duration
}

// NewManager returns a Manager storing files in dir.
func NewManager(dir string) *Manager {
	return &Manager{
		Dir:         dir,
		Client:      &http.Client{Timeout: 30 * time.Minute},
		MinInterval: 100 * time.Millisecond,
	}
}

// Path returns the local path of a manifest file.
func (m *Manager) Path(f File) string {
	return filepath.Join(m.Dir, f.Name)
}

// Ensure downloads any missing manifest files concurrently and returns the
// local paths in manifest order. Each file being fetched reports initiate,
// progress and done; a single ready event follows once every file is
// present. progress may be nil and is never called concurrently.
func (m *Manager) Ensure(ctx context.Context, manifest Manifest, progress func(Event)) ([]string, error) {
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return nil, fmt.Errorf("models: creating models dir: %w", err)
	}

	var emitMu sync.Mutex
	emit := func(e Event) {
		if progress == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		progress(e)
	}

	paths := make([]string, len(manifest.Files))
	errs := make([]error, len(manifest.Files))
	var wg sync.WaitGroup
	for i, f := range manifest.Files {
		paths[i] = m.Path(f)
		if info, err := os.Stat(paths[i]); err == nil && info.Size() > 0 {
			continue
		}
		wg.Add(1)
		go func(i int, f File) {
			defer wg.Done()
			errs[i] = m.download(ctx, f, paths[i], emit)
		}(i, f)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	emit(Event{Status: StatusReady})
	return paths, nil
}

func (m *Manager) download(ctx context.Context, f File, destPath string, emit func(Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("models: request %s: %w", f.Name, err)
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("models: downloading %s: %w", f.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models: downloading %s: HTTP %d", f.Name, resp.StatusCode)
	}

	emit(Event{Status: StatusInitiate, File: f.Name, Total: resp.ContentLength})

	// Write to temp file first, then rename (atomic)
	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("models: creating temp file: %w", err)
	}

	pw := &progressWriter{
		writer:   out,
		total:    resp.ContentLength,
		file:     f.Name,
		emit:     emit,
		interval: m.MinInterval,
	}
	_, err = io.Copy(pw, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: writing %s: %w", f.Name, err)
	}
	pw.report(true)

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: moving %s: %w", f.Name, err)
	}

	emit(Event{Status: StatusDone, File: f.Name, Loaded: pw.written, Total: pw.total, Progress: 100})
	return nil
}

// progressWriter wraps an io.Writer and reports download progress.
type progressWriter struct {
	writer   io.Writer
	total    int64
	written  int64
	file     string
	emit     func(Event)
	interval time.Duration
	last     time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	pw.report(false)
	return n, err
}

func (pw *progressWriter) report(force bool) {
	now := time.Now()
	if !force && now.Sub(pw.last) < pw.interval {
		return
	}
	pw.last = now
	pct := 0.0
	if pw.total > 0 {
		pct = float64(pw.written) / float64(pw.total) * 100
	}
	pw.emit(Event{Status: StatusProgress, File: pw.file, Loaded: pw.written, Total: pw.total, Progress: pct})
}

// Download fetches manifest with progress printed to w, for the
// command-line download flow.
func (m *Manager) Download(ctx context.Context, manifest Manifest, w io.Writer) error {
	fmt.Fprintf(w, "Models will be downloaded to: %s\n", m.Dir)
	_, err := m.Ensure(ctx, manifest, func(e Event) {
		switch e.Status {
		case StatusInitiate:
			fmt.Fprintf(w, "  Downloading %s...\n", e.File)
		case StatusProgress:
			if e.Total > 0 {
				fmt.Fprintf(w, "\r  %s: %.1f MB / %.1f MB (%.0f%%)", e.File,
					float64(e.Loaded)/(1024*1024), float64(e.Total)/(1024*1024), e.Progress)
			} else {
				fmt.Fprintf(w, "\r  %s: %.1f MB downloaded", e.File, float64(e.Loaded)/(1024*1024))
			}
		case StatusDone:
			fmt.Fprintf(w, "\n  Downloaded %s (%.1f MB)\n", e.File, float64(e.Loaded)/(1024*1024))
		case StatusReady:
			fmt.Fprintf(w, "  Model %s ready.\n", manifest.ID)
		}
	})
	return err
}
