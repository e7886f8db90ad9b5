package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SQLiteScheme prefixes refs to audio held in the database.
	SQLiteScheme = "audio://"
	// DirScheme prefixes refs to audio held as files in the audio directory.
	DirScheme = "audiofile://"
)

// Resolved is a storage ref turned into something a player can open.
type Resolved struct {
	URL      string // file:// URL
	Path     string
	MimeType string
}

// AudioStore persists recorded audio behind opaque refs.
type AudioStore interface {
	SaveAudio(ctx context.Context, blob []byte, filename, mimeType string) (string, error)
	ResolveStorageURL(ctx context.Context, ref string) (Resolved, error)
	LoadAudio(ctx context.Context, ref string) ([]byte, string, error)
	IsStorageURL(ref string) bool
}

// Compile-time interface satisfaction checks.
var (
	_ AudioStore = (*SQLiteAudio)(nil)
	_ AudioStore = (*DirAudio)(nil)
	_ AudioStore = (*Router)(nil)
)

// SQLiteAudio stores audio blobs in the notes database. Resolving a ref
// materializes the blob into cacheDir.
type SQLiteAudio struct {
	db       *DB
	cacheDir string
}

// NewSQLiteAudio returns an audio store backed by db. An empty cacheDir
// uses a directory under os.TempDir().
func NewSQLiteAudio(db *DB, cacheDir string) *SQLiteAudio {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "gostt-notes-audio")
	}
	return &SQLiteAudio{db: db, cacheDir: cacheDir}
}

func (a *SQLiteAudio) IsStorageURL(ref string) bool {
	return strings.HasPrefix(ref, SQLiteScheme)
}

// SaveAudio inserts blob and returns an audio://<uuid> ref.
func (a *SQLiteAudio) SaveAudio(ctx context.Context, blob []byte, filename, mimeType string) (string, error) {
	id := uuid.NewString()
	_, err := a.db.db.ExecContext(ctx, `
		INSERT INTO audio (id, filename, mimeType, size, data, createdAt)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, filename, mimeType, len(blob), blob, unixFromTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("store: insert audio: %w", err)
	}
	return SQLiteScheme + id, nil
}

// LoadAudio returns the blob and MIME type for ref.
func (a *SQLiteAudio) LoadAudio(ctx context.Context, ref string) ([]byte, string, error) {
	if !a.IsStorageURL(ref) {
		return nil, "", fmt.Errorf("store: %q is not a database audio ref: %w", ref, ErrNotFound)
	}
	id := strings.TrimPrefix(ref, SQLiteScheme)
	var data []byte
	var mime string
	err := a.db.db.QueryRowContext(ctx, `SELECT data, mimeType FROM audio WHERE id = ?`, id).Scan(&data, &mime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("store: audio %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("store: load audio: %w", err)
	}
	return data, mime, nil
}

// ResolveStorageURL writes the blob to the cache directory (once) and
// returns its file URL.
func (a *SQLiteAudio) ResolveStorageURL(ctx context.Context, ref string) (Resolved, error) {
	if !a.IsStorageURL(ref) {
		return Resolved{}, fmt.Errorf("store: %q is not a database audio ref: %w", ref, ErrNotFound)
	}
	id := strings.TrimPrefix(ref, SQLiteScheme)
	var filename, mime string
	err := a.db.db.QueryRowContext(ctx, `SELECT filename, mimeType FROM audio WHERE id = ?`, id).Scan(&filename, &mime)
	if errors.Is(err, sql.ErrNoRows) {
		return Resolved{}, fmt.Errorf("store: audio %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return Resolved{}, fmt.Errorf("store: resolve audio: %w", err)
	}

	path := filepath.Join(a.cacheDir, id+filepath.Ext(filename))
	if _, err := os.Stat(path); err != nil {
		data, _, err := a.LoadAudio(ctx, ref)
		if err != nil {
			return Resolved{}, err
		}
		if err := writeAtomic(path, data); err != nil {
			return Resolved{}, err
		}
	}
	return Resolved{URL: fileURL(path), Path: path, MimeType: mime}, nil
}

// DirAudio stores audio as files in a directory. The MIME type travels in
// a sidecar file next to the audio.
type DirAudio struct {
	dir string
}

// NewDirAudio returns a directory-backed audio store.
func NewDirAudio(dir string) *DirAudio {
	return &DirAudio{dir: dir}
}

func (d *DirAudio) IsStorageURL(ref string) bool {
	return strings.HasPrefix(ref, DirScheme)
}

// SaveAudio writes blob atomically and returns an audiofile://<name> ref.
// Name collisions get a short unique suffix.
func (d *DirAudio) SaveAudio(_ context.Context, blob []byte, filename, mimeType string) (string, error) {
	name := filepath.Base(filename)
	if _, err := os.Stat(filepath.Join(d.dir, name)); err == nil {
		ext := filepath.Ext(name)
		name = strings.TrimSuffix(name, ext) + "-" + uuid.NewString()[:8] + ext
	}
	path := filepath.Join(d.dir, name)
	if err := writeAtomic(path, blob); err != nil {
		return "", err
	}
	if err := writeAtomic(path+".mime", []byte(mimeType)); err != nil {
		// No ref is returned, so nothing else would remove the audio.
		os.Remove(path)
		return "", err
	}
	return DirScheme + name, nil
}

func (d *DirAudio) path(ref string) (string, error) {
	if !d.IsStorageURL(ref) {
		return "", fmt.Errorf("store: %q is not a file audio ref: %w", ref, ErrNotFound)
	}
	name := strings.TrimPrefix(ref, DirScheme)
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("store: invalid audio ref %q: %w", ref, ErrNotFound)
	}
	return filepath.Join(d.dir, name), nil
}

func (d *DirAudio) mimeFor(path string) string {
	b, err := os.ReadFile(path + ".mime")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// LoadAudio reads the file behind ref.
func (d *DirAudio) LoadAudio(_ context.Context, ref string) ([]byte, string, error) {
	path, err := d.path(ref)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("store: audio %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("store: reading audio: %w", err)
	}
	return data, d.mimeFor(path), nil
}

// ResolveStorageURL returns the file URL behind ref.
func (d *DirAudio) ResolveStorageURL(_ context.Context, ref string) (Resolved, error) {
	path, err := d.path(ref)
	if err != nil {
		return Resolved{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return Resolved{}, fmt.Errorf("store: audio %s: %w", ref, ErrNotFound)
	}
	return Resolved{URL: fileURL(path), Path: path, MimeType: d.mimeFor(path)}, nil
}

// Router saves into the primary store and resolves refs from whichever
// store issued them, so audio saved before a storage flag change stays
// playable.
type Router struct {
	primary AudioStore
	all     []AudioStore
}

// NewRouter returns a router writing to primary and reading from primary
// and others.
func NewRouter(primary AudioStore, others ...AudioStore) *Router {
	return &Router{primary: primary, all: append([]AudioStore{primary}, others...)}
}

func (r *Router) SaveAudio(ctx context.Context, blob []byte, filename, mimeType string) (string, error) {
	return r.primary.SaveAudio(ctx, blob, filename, mimeType)
}

func (r *Router) IsStorageURL(ref string) bool {
	return r.owner(ref) != nil
}

func (r *Router) ResolveStorageURL(ctx context.Context, ref string) (Resolved, error) {
	s := r.owner(ref)
	if s == nil {
		return Resolved{}, fmt.Errorf("store: no store for ref %q: %w", ref, ErrNotFound)
	}
	return s.ResolveStorageURL(ctx, ref)
}

func (r *Router) LoadAudio(ctx context.Context, ref string) ([]byte, string, error) {
	s := r.owner(ref)
	if s == nil {
		return nil, "", fmt.Errorf("store: no store for ref %q: %w", ref, ErrNotFound)
	}
	return s.LoadAudio(ctx, ref)
}

func (r *Router) owner(ref string) AudioStore {
	for _, s := range r.all {
		if s.IsStorageURL(ref) {
			return s
		}
	}
	return nil
}

// writeAtomic writes data to a temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: creating audio dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: persisting audio file: %w", err)
	}
	return nil
}

func fileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
