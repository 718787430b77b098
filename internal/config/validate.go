package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validateNormalize(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRecording() error {
	if c.Recording.MaxDurationSeconds <= 0 {
		return errors.New("recording.max_duration_seconds must be positive")
	}
	if c.Recording.MaxDurationSeconds > maxRecordingCeilingSeconds {
		return fmt.Errorf("recording.max_duration_seconds must be at most %d", maxRecordingCeilingSeconds)
	}
	return nil
}

func (c *Config) validateNormalize() error {
	if c.Normalize.TargetWidth <= 0 || c.Normalize.TargetHeight <= 0 {
		return errors.New("normalize.target_width and normalize.target_height must be positive")
	}
	if c.Normalize.TargetWidth%2 != 0 || c.Normalize.TargetHeight%2 != 0 {
		return errors.New("normalize target dimensions must be even")
	}
	if crop := c.Normalize.Crop; crop != "" && strings.Count(crop, ":") < 1 {
		return fmt.Errorf("normalize.crop %q must use the w:h[:x:y] form", crop)
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if c.Transcription.Endpoint == "" {
		return errors.New("transcription.endpoint must be set")
	}
	parsed, err := url.Parse(c.Transcription.Endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("transcription.endpoint %q must be an absolute URL", c.Transcription.Endpoint)
	}
	if c.Transcription.TimeoutSeconds < 0 || c.Transcription.TimeoutSeconds > maxTranscriptionTimeoutSecond {
		return fmt.Errorf("transcription.timeout_seconds must be between 0 and %d", maxTranscriptionTimeoutSecond)
	}
	switch c.Transcription.EmptyResultPolicy {
	case EmptyResultSucceed, EmptyResultFail:
	default:
		return fmt.Errorf("transcription.empty_result_policy must be %q or %q", EmptyResultSucceed, EmptyResultFail)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
