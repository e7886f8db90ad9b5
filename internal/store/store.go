// Package store persists notes and recorded audio.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a note or audio ref does not exist.
var ErrNotFound = errors.New("store: not found")

// Note is the record the recording pipeline creates and updates.
type Note struct {
	ID        string
	Title     string
	Content   string
	AudioURL  string
	Duration  float64
	CreatedAt time.Time
	UpdatedAt time.Time
	Tags      []string
}

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	audioUrl TEXT NOT NULL DEFAULT '',
	duration REAL NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT '[]',
	createdAt REAL NOT NULL,
	updatedAt REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS audio (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	mimeType TEXT NOT NULL,
	size INTEGER NOT NULL,
	data BLOB NOT NULL,
	createdAt REAL NOT NULL
);
`

// DB is the SQLite database holding notes and, when the modern storage
// path is enabled, audio blobs.
type DB struct {
	db *sql.DB
}

// DefaultDBPath returns the default database path under dataDir.
func DefaultDBPath(dataDir string) string {
	return filepath.Join(dataDir, "notes.sqlite")
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an in-memory database.
func Open(path string) (*DB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("store: creating database dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// SQLite allows one writer; an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

// AddNote inserts a new note.
func (s *DB) AddNote(ctx context.Context, n Note) error {
	tags, err := encodeTags(n.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, audioUrl, duration, tags, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Title, n.Content, n.AudioURL, n.Duration, tags, unixFromTime(n.CreatedAt), unixFromTime(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert note: %w", err)
	}
	return nil
}

// UpdateNote replaces an existing note's fields.
func (s *DB) UpdateNote(ctx context.Context, n Note) error {
	tags, err := encodeTags(n.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET title = ?, content = ?, audioUrl = ?, duration = ?, tags = ?, updatedAt = ?
		WHERE id = ?
	`, n.Title, n.Content, n.AudioURL, n.Duration, tags, unixFromTime(n.UpdatedAt), n.ID)
	if err != nil {
		return fmt.Errorf("store: update note: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("store: update note %s: %w", n.ID, ErrNotFound)
	}
	return nil
}

// GetNoteByID returns the note with id, or ErrNotFound.
func (s *DB) GetNoteByID(ctx context.Context, id string) (*Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, audioUrl, duration, tags, createdAt, updatedAt
		FROM notes
		WHERE id = ?
	`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: note %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ListNotes returns all notes, newest first.
func (s *DB) ListNotes(ctx context.Context) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, audioUrl, duration, tags, createdAt, updatedAt
		FROM notes
		ORDER BY createdAt DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*Note, error) {
	var n Note
	var tags string
	var createdAt, updatedAt float64
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &n.AudioURL, &n.Duration, &tags, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan note: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return nil, fmt.Errorf("store: decode tags: %w", err)
	}
	n.CreatedAt = timeFromUnix(createdAt)
	n.UpdatedAt = timeFromUnix(updatedAt)
	return &n, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("store: encode tags: %w", err)
	}
	return string(b), nil
}

// timeFromUnix converts fractional unix seconds to time.Time.
func timeFromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
