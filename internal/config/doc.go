// Package config provides configuration loading and validation for the
// dictation service. It handles YAML-based configuration with per-section
// validation, defaults for every field and an environment override for the
// transcription API key.
package config
