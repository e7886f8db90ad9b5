package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Audio.SampleRate != 22050 {
		t.Errorf("Audio.SampleRate = %d, want 22050", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("Audio.Channels = %d, want 1", cfg.Audio.Channels)
	}
	if !cfg.Audio.EchoCancellation || !cfg.Audio.NoiseSuppression || !cfg.Audio.AutoGain {
		t.Error("voice processing constraints should default to on")
	}
	if cfg.Audio.FlushGraceMS != 500 {
		t.Errorf("Audio.FlushGraceMS = %d, want 500", cfg.Audio.FlushGraceMS)
	}
	if cfg.Transcribe.Backend != "whisper-cli" {
		t.Errorf("Transcribe.Backend = %q, want %q", cfg.Transcribe.Backend, "whisper-cli")
	}
	if cfg.Transcribe.Language != "auto" {
		t.Errorf("Transcribe.Language = %q, want %q", cfg.Transcribe.Language, "auto")
	}
	if cfg.Flags.ModernEngine.RolloutPercentage != 100 {
		t.Errorf("RolloutPercentage = %d, want 100", cfg.Flags.ModernEngine.RolloutPercentage)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
audio:
  sample_rate: 44100
  channels: 2
  flush_grace_ms: 250
transcribe:
  model: small
  multilingual: true
  subtask: translate
  language: de
flags:
  modern_engine:
    enabled: true
    rollout_percentage: 25
    recording: false
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Audio.SampleRate = %d, want 44100", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 2 {
		t.Errorf("Audio.Channels = %d, want 2", cfg.Audio.Channels)
	}
	if cfg.Audio.FlushGraceMS != 250 {
		t.Errorf("Audio.FlushGraceMS = %d, want 250", cfg.Audio.FlushGraceMS)
	}
	if cfg.Transcribe.Model != "small" || !cfg.Transcribe.Multilingual {
		t.Errorf("Transcribe = %+v, want small multilingual", cfg.Transcribe)
	}
	if cfg.Transcribe.Subtask != "translate" || cfg.Transcribe.Language != "de" {
		t.Errorf("Transcribe subtask/language = %q/%q", cfg.Transcribe.Subtask, cfg.Transcribe.Language)
	}
	if cfg.Flags.ModernEngine.RolloutPercentage != 25 {
		t.Errorf("RolloutPercentage = %d, want 25", cfg.Flags.ModernEngine.RolloutPercentage)
	}
	if cfg.Flags.ModernEngine.Recording {
		t.Error("ModernEngine.Recording = true, want false")
	}
	// untouched keys keep their defaults
	if !cfg.Flags.ModernEngine.Playback {
		t.Error("ModernEngine.Playback should keep default true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
transcribe:
  models_dir: ~/models
storage:
  db_path: ~/notes.sqlite
  audio_dir: ~/audio
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "models"); cfg.Transcribe.ModelsDir != want {
		t.Errorf("ModelsDir = %q, want %q", cfg.Transcribe.ModelsDir, want)
	}
	if want := filepath.Join(home, "notes.sqlite"); cfg.Storage.DBPath != want {
		t.Errorf("DBPath = %q, want %q", cfg.Storage.DBPath, want)
	}
	if want := filepath.Join(home, "audio"); cfg.Storage.AudioDir != want {
		t.Errorf("AudioDir = %q, want %q", cfg.Storage.AudioDir, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero sample rate",
			modify:  func(c *Config) { c.Audio.SampleRate = 0 },
			wantErr: true,
		},
		{
			name:    "three channels",
			modify:  func(c *Config) { c.Audio.Channels = 3 },
			wantErr: true,
		},
		{
			name:    "zero timeslice",
			modify:  func(c *Config) { c.Audio.TimesliceMS = 0 },
			wantErr: true,
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Transcribe.Backend = "invalid" },
			wantErr: true,
		},
		{
			name:    "openai without key",
			modify:  func(c *Config) { c.Transcribe.Backend = "openai" },
			wantErr: true,
		},
		{
			name: "openai with key",
			modify: func(c *Config) {
				c.Transcribe.Backend = "openai"
				c.Transcribe.OpenAIAPIKey = "sk-test"
			},
			wantErr: false,
		},
		{
			name:    "invalid subtask",
			modify:  func(c *Config) { c.Transcribe.Subtask = "summarize" },
			wantErr: true,
		},
		{
			name:    "rollout above 100",
			modify:  func(c *Config) { c.Flags.ModernEngine.RolloutPercentage = 101 },
			wantErr: true,
		},
		{
			name:    "volume above 1",
			modify:  func(c *Config) { c.Playback.Volume = 1.5 },
			wantErr: true,
		},
		{
			name:    "empty record hotkey",
			modify:  func(c *Config) { c.Hotkey.Record = nil },
			wantErr: true,
		},
		{
			name:    "unknown hotkey mode",
			modify:  func(c *Config) { c.Hotkey.Mode = "chord" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "gostt-notes", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# gostt-notes") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Audio.SampleRate != 22050 {
		t.Errorf("written config Audio.SampleRate = %d, want 22050", cfg.Audio.SampleRate)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "gostt-notes")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existing := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existing, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existing) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
