package main

import (
	"testing"

	"github.com/chaz8081/gostt-notes/internal/config"
)

type fakeStorage struct {
	sqlite bool
	files  bool
}

func (f fakeStorage) SupportsSQLite(string) bool      { return f.sqlite }
func (f fakeStorage) SupportsFileStorage(string) bool { return f.files }

func TestPickAudioStore(t *testing.T) {
	tests := []struct {
		name      string
		useSQLite bool
		storage   fakeStorage
		want      string
	}{
		{"flag on and database works", true, fakeStorage{sqlite: true, files: true}, "sqlite"},
		{"flag off", false, fakeStorage{sqlite: true, files: true}, "files"},
		{"flag on but database broken", true, fakeStorage{sqlite: false, files: true}, "files"},
		{"audio dir not writable", false, fakeStorage{sqlite: true, files: false}, "sqlite"},
	}
	s := config.Default().Storage
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickAudioStore(tt.useSQLite, tt.storage, s); got != tt.want {
				t.Errorf("pickAudioStore() = %q, want %q", got, tt.want)
			}
		})
	}
}
