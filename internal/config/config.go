package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kalishhhh/wispr-flow-clone/internal/audio"
)

// APIKeyEnv overrides backend.api_key when set.
const APIKeyEnv = "DEEPGRAM_API_KEY"

// Config represents the complete service configuration
type Config struct {
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
	Backend   BackendConfig   `yaml:"backend"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Recording RecordingConfig `yaml:"recording"`
}

// AudioConfig contains capture and framing parameters
type AudioConfig struct {
	Source          string  `yaml:"source"` // portaudio or file
	InputFile       string  `yaml:"input_file"`
	Loop            bool    `yaml:"loop"`
	SampleRate      int     `yaml:"sample_rate"`
	FrameDuration   float64 `yaml:"frame_duration"` // seconds
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
	QueueFrames     int     `yaml:"queue_frames"`
	FlushOnStop     bool    `yaml:"flush_on_stop"`
}

// SessionConfig contains session lifecycle parameters
type SessionConfig struct {
	Cooldown float64 `yaml:"cooldown"` // seconds
}

// BackendConfig contains streaming transcription parameters
type BackendConfig struct {
	URL            string  `yaml:"url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Language       string  `yaml:"language"`
	Punctuate      bool    `yaml:"punctuate"`
	InterimResults bool    `yaml:"interim_results"`
	StartTimeout   int     `yaml:"start_timeout"` // seconds
	StopTimeout    int     `yaml:"stop_timeout"`  // seconds
	SendTimeout    float64 `yaml:"send_timeout"`  // seconds
	KeepAlive      int     `yaml:"keepalive"`     // seconds, 0 disables
	CloseGrace     float64 `yaml:"close_grace"`   // seconds
	EventBuffer    int     `yaml:"event_buffer"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RecordingConfig controls per-session WAV recordings
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Source:          "portaudio",
			SampleRate:      16000,
			FrameDuration:   0.1,
			FramesPerBuffer: 512,
			QueueFrames:     50,
		},
		Session: SessionConfig{
			Cooldown: 0.6,
		},
		Backend: BackendConfig{
			URL:            "wss://api.deepgram.com/v1/listen",
			Punctuate:      true,
			InterimResults: true,
			StartTimeout:   10,
			StopTimeout:    5,
			SendTimeout:    2,
			KeepAlive:      8,
			CloseGrace:     1.5,
			EventBuffer:    256,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Recording: RecordingConfig{
			Dir: "./recordings",
		},
	}
}

// Load reads and parses the configuration file. Fields missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadOrDefault behaves like Load but falls back to Default when path is
// empty or does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		config, err := Load(path)
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			return config, err
		}
	}

	config := Default()
	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv(APIKeyEnv); key != "" {
		c.Backend.APIKey = key
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	return nil
}

// Redacted returns a copy safe to expose over the API.
func (c *Config) Redacted() Config {
	out := *c
	if out.Backend.APIKey != "" {
		out.Backend.APIKey = "***"
	}
	return out
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.Source {
	case "portaudio":
	case "file":
		if a.InputFile == "" {
			return fmt.Errorf("input_file cannot be empty when source is 'file'")
		}
	default:
		return fmt.Errorf("source must be 'portaudio' or 'file', got '%s'", a.Source)
	}

	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.FrameDuration <= 0 || a.FrameDuration > 1 {
		return fmt.Errorf("frame_duration must be in (0, 1] seconds, got %f", a.FrameDuration)
	}

	if a.FrameSize() < 1 {
		return fmt.Errorf("frame_duration %f is shorter than one sample", a.FrameDuration)
	}

	if a.FramesPerBuffer < 0 {
		return fmt.Errorf("frames_per_buffer cannot be negative, got %d", a.FramesPerBuffer)
	}

	if a.QueueFrames < 1 {
		return fmt.Errorf("queue_frames must be at least 1, got %d", a.QueueFrames)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive, got %f", s.Cooldown)
	}
	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	if b.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	u, err := url.Parse(b.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got '%s'", u.Scheme)
	}

	if b.StartTimeout < 1 {
		return fmt.Errorf("start_timeout must be at least 1 second, got %d", b.StartTimeout)
	}

	if b.StopTimeout < 1 {
		return fmt.Errorf("stop_timeout must be at least 1 second, got %d", b.StopTimeout)
	}

	if b.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout must be positive, got %f", b.SendTimeout)
	}

	if b.KeepAlive < 0 {
		return fmt.Errorf("keepalive cannot be negative, got %d", b.KeepAlive)
	}

	if b.CloseGrace <= 0 {
		return fmt.Errorf("close_grace must be positive, got %f", b.CloseGrace)
	}

	if b.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", b.EventBuffer)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is treated as a file path.
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.Enabled && r.Dir == "" {
		return fmt.Errorf("dir cannot be empty when recording is enabled")
	}
	return nil
}

// FrameSize returns the number of samples per frame
func (a *AudioConfig) FrameSize() int {
	return audio.FrameSizeFor(a.SampleRate, a.GetFrameDuration())
}

// GetFrameDuration returns the frame duration as a time.Duration
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameDuration * float64(time.Second))
}

// GetCooldownDuration returns the post-stop cooldown as a time.Duration
func (s *SessionConfig) GetCooldownDuration() time.Duration {
	return time.Duration(s.Cooldown * float64(time.Second))
}

// GetStartTimeoutDuration returns the backend start timeout as a time.Duration
func (b *BackendConfig) GetStartTimeoutDuration() time.Duration {
	return time.Duration(b.StartTimeout) * time.Second
}

// GetStopTimeoutDuration returns the backend stop timeout as a time.Duration
func (b *BackendConfig) GetStopTimeoutDuration() time.Duration {
	return time.Duration(b.StopTimeout) * time.Second
}

// GetSendTimeoutDuration returns the per-frame send timeout as a time.Duration
func (b *BackendConfig) GetSendTimeoutDuration() time.Duration {
	return time.Duration(b.SendTimeout * float64(time.Second))
}

// GetKeepAliveDuration returns the keepalive interval as a time.Duration
func (b *BackendConfig) GetKeepAliveDuration() time.Duration {
	return time.Duration(b.KeepAlive) * time.Second
}

// GetCloseGraceDuration returns how long to wait for final results after
// CloseStream as a time.Duration
func (b *BackendConfig) GetCloseGraceDuration() time.Duration {
	return time.Duration(b.CloseGrace * float64(time.Second))
}
