// Package flags evaluates feature flags for the modern (malgo) audio engines.
//
// Rollout is decided by a stable per-install bucket: Bucket hashes the
// install's device id into [0,100) and a feature is on when the bucket is
// below the configured rollout percentage.
package flags

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/chaz8081/gostt-notes/internal/config"
)

// Feature names a flag-gated subsystem.
type Feature string

const (
	FeatureRecording Feature = "recording"
	FeaturePlayback  Feature = "playback"
	FeatureStorage   Feature = "storage"
)

// Bucket maps an id onto a stable percentile in [0,100). The same id always
// yields the same bucket on every platform.
func Bucket(id string) int {
	sum := blake2b.Sum256([]byte(id))
	return int(binary.BigEndian.Uint64(sum[:8]) % 100)
}

// Store answers flag queries for one install.
type Store struct {
	cfg    config.FlagsConfig
	userID string
}

// NewStore creates a flag store for the given user/device id.
func NewStore(cfg config.FlagsConfig, userID string) *Store {
	return &Store{cfg: cfg, userID: userID}
}

// ShouldUseModernEngine reports whether the modern engine is enabled for
// feature on this install.
func (s *Store) ShouldUseModernEngine(feature Feature) bool {
	me := s.cfg.ModernEngine
	if !me.Enabled {
		return false
	}

	var on bool
	switch feature {
	case FeatureRecording:
		on = me.Recording
	case FeaturePlayback:
		on = me.Playback
	case FeatureStorage:
		on = me.Storage
	}
	if !on {
		return false
	}
	return Bucket(s.userID) < me.RolloutPercentage
}

// EnableDebugLogging reports whether verbose logging was requested.
func (s *Store) EnableDebugLogging() bool {
	return s.cfg.EnableDebugLogging
}

const deviceIDFile = "device_id"

// DeviceID returns the persisted install id stored in dir, creating it on
// first use.
func DeviceID(dir string) (string, error) {
	path := filepath.Join(dir, deviceIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr == nil {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("flags: read device id: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("flags: create dir: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("flags: write device id: %w", err)
	}
	return id, nil
}
