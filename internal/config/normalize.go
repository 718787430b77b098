package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRecording()
	c.normalizeTranscription()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}

	derive := func(field *string, name, fallback string) error {
		if strings.TrimSpace(*field) == "" {
			*field = filepath.Join(c.Paths.DataDir, fallback)
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return fmt.Errorf("paths.%s: %w", name, err)
		}
		*field = expanded
		return nil
	}
	if err := derive(&c.Paths.ClipsDir, "clips_dir", defaultClipsSubdir); err != nil {
		return err
	}
	if err := derive(&c.Paths.StagingDir, "staging_dir", defaultStagingSubdir); err != nil {
		return err
	}
	if err := derive(&c.Paths.LogDir, "log_dir", defaultLogSubdir); err != nil {
		return err
	}
	if err := derive(&c.Paths.TranscriptsFile, "transcripts_file", defaultTranscriptsFileName); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeRecording() {
	c.Recording.FFmpegBinary = strings.TrimSpace(c.Recording.FFmpegBinary)
	if c.Recording.FFmpegBinary == "" {
		c.Recording.FFmpegBinary = defaultFFmpegBinary
	}
	c.Recording.InputFormat = strings.TrimSpace(c.Recording.InputFormat)
	c.Recording.VideoDevice = strings.TrimSpace(c.Recording.VideoDevice)
	c.Recording.AudioFormat = strings.TrimSpace(c.Recording.AudioFormat)
	c.Recording.AudioDevice = strings.TrimSpace(c.Recording.AudioDevice)
	if c.Recording.FinalizeTimeout <= 0 {
		c.Recording.FinalizeTimeout = defaultFinalizeTimeout
	}
	c.Normalize.Crop = strings.TrimSpace(c.Normalize.Crop)
}

func (c *Config) normalizeTranscription() {
	c.Transcription.Endpoint = strings.TrimSpace(c.Transcription.Endpoint)
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	c.Transcription.APIKey = strings.TrimSpace(c.Transcription.APIKey)
	if c.Transcription.APIKey == "" {
		if value, ok := os.LookupEnv("LIPSTALK_TRANSCRIBE_API_KEY"); ok {
			c.Transcription.APIKey = strings.TrimSpace(value)
		}
	}
	policy := strings.ToLower(strings.TrimSpace(c.Transcription.EmptyResultPolicy))
	if policy == "" {
		policy = EmptyResultSucceed
	}
	c.Transcription.EmptyResultPolicy = policy
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("LIPSTALK_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
