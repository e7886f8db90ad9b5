package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Audio         AudioConfig      `yaml:"audio"`
	Transcribe    TranscribeConfig `yaml:"transcribe"`
	Flags         FlagsConfig      `yaml:"flags"`
	Storage       StorageConfig    `yaml:"storage"`
	Playback      PlaybackConfig   `yaml:"playback"`
	Hotkey        HotkeyConfig     `yaml:"hotkey"`
	Agents        AgentsConfig     `yaml:"agents"`
	LogLevel      string           `yaml:"log_level"`
	LogFile       string           `yaml:"log_file"`
	Notifications bool             `yaml:"notifications"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate       uint32   `yaml:"sample_rate"`
	Channels         uint32   `yaml:"channels"`
	EchoCancellation bool     `yaml:"echo_cancellation"`
	NoiseSuppression bool     `yaml:"noise_suppression"`
	AutoGain         bool     `yaml:"auto_gain"`
	TimesliceMS      int      `yaml:"timeslice_ms"`
	FlushGraceMS     int      `yaml:"flush_grace_ms"`
	MimePreference   []string `yaml:"mime_preference"`
	FFmpegBin        string   `yaml:"ffmpeg_bin"`
}

// TranscribeConfig holds the speech-to-text settings. They are read once per
// job at dispatch time.
type TranscribeConfig struct {
	Backend      string `yaml:"backend"` // "whisper-cli" or "openai"
	Model        string `yaml:"model"`
	Multilingual bool   `yaml:"multilingual"`
	Quantized    bool   `yaml:"quantized"`
	Subtask      string `yaml:"subtask"`  // "transcribe" or "translate"
	Language     string `yaml:"language"` // "auto" or an ISO code
	WhisperBin   string `yaml:"whisper_bin"`
	ModelsDir    string `yaml:"models_dir"`
	ModelBaseURL string `yaml:"model_base_url"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIModel  string `yaml:"openai_model"`
}

// FlagsConfig holds the persisted feature flag state.
type FlagsConfig struct {
	ModernEngine       ModernEngineFlags `yaml:"modern_engine"`
	EnableDebugLogging bool              `yaml:"enable_debug_logging"`
}

// ModernEngineFlags gates the malgo-based engines per feature.
type ModernEngineFlags struct {
	Enabled           bool `yaml:"enabled"`
	RolloutPercentage int  `yaml:"rollout_percentage"`
	Recording         bool `yaml:"recording"`
	Playback          bool `yaml:"playback"`
	Storage           bool `yaml:"storage"`
}

// StorageConfig holds persistence paths.
type StorageConfig struct {
	DBPath   string `yaml:"db_path"`
	AudioDir string `yaml:"audio_dir"`
}

// PlaybackConfig holds playback settings.
type PlaybackConfig struct {
	PlayerBin string  `yaml:"player_bin"`
	Volume    float64 `yaml:"volume"`
}

// HotkeyConfig holds the global key combos.
type HotkeyConfig struct {
	Mode   string   `yaml:"mode"` // "toggle" or "hold"
	Record []string `yaml:"record"`
	Pause  []string `yaml:"pause"`
	Cancel []string `yaml:"cancel"`
}

// AgentsConfig controls post-transcription agent runs.
type AgentsConfig struct {
	AutoRun bool   `yaml:"auto_run"`
	Command string `yaml:"command"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-notes")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultDataDir returns the directory holding the database, audio and models.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "gostt-notes")
}

// DefaultModelsDir returns the default directory for downloaded model files.
func DefaultModelsDir() string {
	return filepath.Join(DefaultDataDir(), "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Audio: AudioConfig{
			SampleRate:       22050,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGain:         true,
			TimesliceMS:      1000,
			FlushGraceMS:     500,
			FFmpegBin:        "ffmpeg",
		},
		Transcribe: TranscribeConfig{
			Backend:      "whisper-cli",
			Model:        "base",
			Multilingual: false,
			Quantized:    true,
			Subtask:      "transcribe",
			Language:     "auto",
			WhisperBin:   "whisper-cli",
			ModelsDir:    DefaultModelsDir(),
			ModelBaseURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main",
			OpenAIModel:  "whisper-1",
		},
		Flags: FlagsConfig{
			ModernEngine: ModernEngineFlags{
				Enabled:           true,
				RolloutPercentage: 100,
				Recording:         true,
				Playback:          true,
				Storage:           true,
			},
		},
		Storage: StorageConfig{
			DBPath:   filepath.Join(dataDir, "notes.sqlite"),
			AudioDir: filepath.Join(dataDir, "audio"),
		},
		Playback: PlaybackConfig{
			Volume: 1.0,
		},
		Hotkey: HotkeyConfig{
			Mode:   "toggle",
			Record: []string{"ctrl", "shift", "r"},
			Pause:  []string{"ctrl", "shift", "p"},
			Cancel: []string{"ctrl", "shift", "x"},
		},
		LogLevel:      "info",
		Notifications: true,
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Transcribe.ModelsDir = expandTilde(cfg.Transcribe.ModelsDir)
	cfg.Storage.DBPath = expandTilde(cfg.Storage.DBPath)
	cfg.Storage.AudioDir = expandTilde(cfg.Storage.AudioDir)
	cfg.LogFile = expandTilde(cfg.LogFile)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels == 0 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels)
	}
	if c.Audio.TimesliceMS <= 0 {
		return fmt.Errorf("audio.timeslice_ms must be > 0")
	}
	if c.Audio.FlushGraceMS < 0 {
		return fmt.Errorf("audio.flush_grace_ms must be >= 0")
	}

	switch c.Transcribe.Backend {
	case "whisper-cli":
		if c.Transcribe.WhisperBin == "" {
			return fmt.Errorf("transcribe.whisper_bin must not be empty for whisper-cli backend")
		}
		if c.Transcribe.ModelsDir == "" {
			return fmt.Errorf("transcribe.models_dir must not be empty for whisper-cli backend")
		}
	case "openai":
		if c.Transcribe.OpenAIAPIKey == "" {
			return fmt.Errorf("transcribe.openai_api_key must not be empty for openai backend")
		}
	default:
		return fmt.Errorf("transcribe.backend must be \"whisper-cli\" or \"openai\", got %q", c.Transcribe.Backend)
	}
	if c.Transcribe.Model == "" {
		return fmt.Errorf("transcribe.model must not be empty")
	}
	switch c.Transcribe.Subtask {
	case "transcribe", "translate":
	default:
		return fmt.Errorf("transcribe.subtask must be \"transcribe\" or \"translate\", got %q", c.Transcribe.Subtask)
	}
	if c.Transcribe.Language == "" {
		return fmt.Errorf("transcribe.language must be \"auto\" or a language code")
	}

	if p := c.Flags.ModernEngine.RolloutPercentage; p < 0 || p > 100 {
		return fmt.Errorf("flags.modern_engine.rollout_percentage must be within 0..100, got %d", p)
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path must not be empty")
	}
	if c.Storage.AudioDir == "" {
		return fmt.Errorf("storage.audio_dir must not be empty")
	}

	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		return fmt.Errorf("playback.volume must be within 0..1, got %v", c.Playback.Volume)
	}

	if len(c.Hotkey.Record) == 0 {
		return fmt.Errorf("hotkey.record must not be empty")
	}
	if c.Hotkey.Mode != "toggle" && c.Hotkey.Mode != "hold" {
		return fmt.Errorf("hotkey.mode must be \"toggle\" or \"hold\", got %q", c.Hotkey.Mode)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values
// fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# gostt-notes configuration
# Generated on first run. Edit and restart to apply.
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the written path, or "" when a config
// already existed.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshalling default config: %w", err)
	}

	content := append([]byte(defaultHeader), data...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
