// Package config loads, normalizes, and validates LipsTalk configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// LIPSTALK_TRANSCRIBE_API_KEY (optionally sourced from a .env file). The
// Config type centralizes every knob the CLI, the capture pipeline, and the
// local API server need, so storage directories and external service
// settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
