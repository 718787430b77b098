package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir         string `toml:"data_dir"`
	ClipsDir        string `toml:"clips_dir"`
	StagingDir      string `toml:"staging_dir"`
	LogDir          string `toml:"log_dir"`
	TranscriptsFile string `toml:"transcripts_file"`
	APIBind         string `toml:"api_bind"`
}

// Recording contains capture settings for a single attempt.
type Recording struct {
	MaxDurationSeconds int    `toml:"max_duration_seconds"`
	KeepClips          bool   `toml:"keep_clips"`
	FFmpegBinary       string `toml:"ffmpeg_binary"`
	InputFormat        string `toml:"input_format"`
	VideoDevice        string `toml:"video_device"`
	AudioFormat        string `toml:"audio_format"`
	AudioDevice        string `toml:"audio_device"`
	FinalizeTimeout    int    `toml:"finalize_timeout"`
}

// Normalize contains the crop/resize contract of the transcription service.
type Normalize struct {
	Crop         string `toml:"crop"`
	TargetWidth  int    `toml:"target_width"`
	TargetHeight int    `toml:"target_height"`
	KeepAudio    bool   `toml:"keep_audio"`
}

// Transcription contains connection settings for the lip-reading service.
type Transcription struct {
	Endpoint          string `toml:"endpoint"`
	APIKey            string `toml:"api_key"`
	Model             string `toml:"model"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	EmptyResultPolicy string `toml:"empty_result_policy"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic        string `toml:"ntfy_topic"`
	RequestTimeout   int    `toml:"request_timeout"`
	TranscriptSaved  bool   `toml:"transcript_saved"`
	AttemptFailed    bool   `toml:"attempt_failed"`
	DeviceHotplugged bool   `toml:"device_hotplugged"`
}

// Speech contains the helpers used to copy or read transcripts aloud.
type Speech struct {
	TTSBinary       string   `toml:"tts_binary"`
	TTSArgs         []string `toml:"tts_args"`
	ClipboardBinary string   `toml:"clipboard_binary"`
	ClipboardArgs   []string `toml:"clipboard_args"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for LipsTalk.
//
// Configuration sections by subsystem:
//   - Paths: data, clip, staging, and log directories plus the API bind address
//   - Recording: capture ceiling and ffmpeg input devices
//   - Normalize: crop and target size for the normalized clip
//   - Transcription: remote lip-reading service connection and result policy
//   - Notifications: ntfy push notification settings
//   - Speech: text-to-speech and clipboard helpers
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Recording     Recording     `toml:"recording"`
	Normalize     Normalize     `toml:"normalize"`
	Transcription Transcription `toml:"transcription"`
	Notifications Notifications `toml:"notifications"`
	Speech        Speech        `toml:"speech"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lipstalk/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	loadDotEnv()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env files without overriding variables already set in
// the environment. Missing files are ignored.
func loadDotEnv() {
	candidates := []string{".env"}
	if dir, err := expandPath("~/.config/lipstalk"); err == nil {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		_ = godotenv.Load(candidate)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lipstalk.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data, clip, staging, and log directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.ClipsDir, c.Paths.StagingDir, c.Paths.LogDir}
	if file := strings.TrimSpace(c.Paths.TranscriptsFile); file != "" {
		dirs = append(dirs, filepath.Dir(file))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath returns the SQLite attempt journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.DataDir, "attempts.db")
}

// LockPath returns the single-instance lock used by the API server.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "lipstalk.lock")
}

// MaxDuration returns the recording ceiling as a duration.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Recording.MaxDurationSeconds) * time.Second
}

// TranscribeTimeout returns the caller-supplied timeout around the
// transcribing state. Zero disables it.
func (c *Config) TranscribeTimeout() time.Duration {
	if c.Transcription.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Transcription.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
