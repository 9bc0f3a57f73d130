package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}

	if config.Audio.FrameSize() != 1600 {
		t.Errorf("Expected 1600-sample frames, got %d", config.Audio.FrameSize())
	}
	if config.Session.GetCooldownDuration() != 600*time.Millisecond {
		t.Errorf("Expected 600ms cooldown, got %v", config.Session.GetCooldownDuration())
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "unknown audio source",
			modify:      func(c *Config) { c.Audio.Source = "alsa" },
			expectError: true,
			errorMsg:    "audio config: source must be 'portaudio' or 'file'",
		},
		{
			name:        "file source without input",
			modify:      func(c *Config) { c.Audio.Source = "file" },
			expectError: true,
			errorMsg:    "input_file cannot be empty",
		},
		{
			name: "file source with input",
			modify: func(c *Config) {
				c.Audio.Source = "file"
				c.Audio.InputFile = "testdata/hello.wav"
			},
			expectError: false,
		},
		{
			name:        "sample rate too low",
			modify:      func(c *Config) { c.Audio.SampleRate = 4000 },
			expectError: true,
			errorMsg:    "sample_rate must be between 8000 and 48000",
		},
		{
			name:        "zero frame duration",
			modify:      func(c *Config) { c.Audio.FrameDuration = 0 },
			expectError: true,
			errorMsg:    "frame_duration must be in (0, 1]",
		},
		{
			name:        "frame shorter than a sample",
			modify:      func(c *Config) { c.Audio.FrameDuration = 0.00001 },
			expectError: true,
			errorMsg:    "shorter than one sample",
		},
		{
			name:        "empty queue",
			modify:      func(c *Config) { c.Audio.QueueFrames = 0 },
			expectError: true,
			errorMsg:    "queue_frames must be at least 1",
		},
		{
			name:        "negative cooldown",
			modify:      func(c *Config) { c.Session.Cooldown = -1 },
			expectError: true,
			errorMsg:    "session config: cooldown must be positive",
		},
		{
			name:        "zero cooldown",
			modify:      func(c *Config) { c.Session.Cooldown = 0 },
			expectError: true,
			errorMsg:    "session config: cooldown must be positive",
		},
		{
			name:        "zero close grace",
			modify:      func(c *Config) { c.Backend.CloseGrace = 0 },
			expectError: true,
			errorMsg:    "backend config: close_grace must be positive",
		},
		{
			name:        "negative close grace",
			modify:      func(c *Config) { c.Backend.CloseGrace = -0.5 },
			expectError: true,
			errorMsg:    "backend config: close_grace must be positive",
		},
		{
			name:        "http backend url",
			modify:      func(c *Config) { c.Backend.URL = "https://api.deepgram.com/v1/listen" },
			expectError: true,
			errorMsg:    "url scheme must be ws or wss",
		},
		{
			name:        "zero start timeout",
			modify:      func(c *Config) { c.Backend.StartTimeout = 0 },
			expectError: true,
			errorMsg:    "start_timeout must be at least 1 second",
		},
		{
			name:        "invalid http port",
			modify:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name: "disabled http ignores port",
			modify: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
			expectError: false,
		},
		{
			name: "recording without dir",
			modify: func(c *Config) {
				c.Recording.Enabled = true
				c.Recording.Dir = ""
			},
			expectError: true,
			errorMsg:    "recording config: dir cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
audio:
  source: portaudio
  sample_rate: 16000
  frame_duration: 0.05
  queue_frames: 20
session:
  cooldown: 0.25
backend:
  url: "wss://example.test/v1/listen"
  api_key: "test-key"
  model: "nova-2"
http:
  port: 9090
  address: "0.0.0.0"
  enabled: true
logging:
  level: "debug"
  format: "json"
  output: "stderr"
`,
			expectError: false,
		},
		{
			name: "partial file keeps defaults",
			configYAML: `
session:
  cooldown: 1
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
audio:
  sample_rate: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid value",
			configYAML: `
logging:
  level: "verbose"
`,
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config == nil {
				t.Fatal("Expected config to be loaded but got nil")
			}
		})
	}
}

func TestConfigLoadValues(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
audio:
  frame_duration: 0.05
session:
  cooldown: 0.25
backend:
  api_key: "file-key"
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Audio.FrameSize() != 800 {
		t.Errorf("Expected 800-sample frames, got %d", config.Audio.FrameSize())
	}
	if config.Session.GetCooldownDuration() != 250*time.Millisecond {
		t.Errorf("Expected 250ms cooldown, got %v", config.Session.GetCooldownDuration())
	}
	if config.Backend.APIKey != "file-key" {
		t.Errorf("Expected api key from file, got '%s'", config.Backend.APIKey)
	}
	// Untouched sections keep defaults.
	if config.Backend.URL != Default().Backend.URL {
		t.Errorf("Expected default backend url, got '%s'", config.Backend.URL)
	}
	if config.Audio.QueueFrames != 50 {
		t.Errorf("Expected default queue_frames 50, got %d", config.Audio.QueueFrames)
	}
}

func TestAPIKeyEnvOverride(t *testing.T) {
	t.Setenv(APIKeyEnv, "env-key")
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("backend:\n  api_key: file-key\n"), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Backend.APIKey != "env-key" {
		t.Errorf("Expected env-key, got '%s'", config.Backend.APIKey)
	}
}

func TestConfigLoadRejectsZeroDurations(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		errorMsg string
	}{
		{"cooldown", "session:\n  cooldown: 0\n", "cooldown must be positive"},
		{"close grace", "backend:\n  close_grace: 0\n", "close_grace must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Expected validation error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv(APIKeyEnv, "env-key")

	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.yaml")} {
		config, err := LoadOrDefault(path)
		if err != nil {
			t.Fatalf("LoadOrDefault(%q) failed: %v", path, err)
		}
		if config.Audio.SampleRate != 16000 {
			t.Errorf("Expected default sample rate, got %d", config.Audio.SampleRate)
		}
		if config.Backend.APIKey != "env-key" {
			t.Errorf("Expected env override on defaults, got '%s'", config.Backend.APIKey)
		}
	}

	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(badPath, []byte("logging:\n  format: xml\n"), 0644)
	if _, err := LoadOrDefault(badPath); err == nil {
		t.Error("Expected an invalid existing file to fail")
	}
}

func TestRedacted(t *testing.T) {
	config := Default()
	config.Backend.APIKey = "secret"

	redacted := config.Redacted()
	if redacted.Backend.APIKey != "***" {
		t.Errorf("Expected redacted key, got '%s'", redacted.Backend.APIKey)
	}
	if config.Backend.APIKey != "secret" {
		t.Error("Redacted must not modify the original")
	}

	config.Backend.APIKey = ""
	if config.Redacted().Backend.APIKey != "" {
		t.Error("Empty key should stay empty")
	}
}

func TestDurationHelpers(t *testing.T) {
	audio := AudioConfig{SampleRate: 16000, FrameDuration: 0.02}
	if audio.GetFrameDuration() != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", audio.GetFrameDuration())
	}
	if audio.FrameSize() != 320 {
		t.Errorf("Expected 320 samples, got %d", audio.FrameSize())
	}

	// 22050 Hz * 33.3ms is 734.265 samples.
	audio = AudioConfig{SampleRate: 22050, FrameDuration: 0.0333}
	if audio.FrameSize() != 734 {
		t.Errorf("Expected 734 samples, got %d", audio.FrameSize())
	}

	backend := BackendConfig{
		StartTimeout: 10,
		StopTimeout:  5,
		SendTimeout:  0.5,
		KeepAlive:    8,
		CloseGrace:   1.5,
	}

	if backend.GetStartTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", backend.GetStartTimeoutDuration())
	}
	if backend.GetStopTimeoutDuration() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", backend.GetStopTimeoutDuration())
	}
	if backend.GetSendTimeoutDuration() != 500*time.Millisecond {
		t.Errorf("Expected 0.5 seconds, got %v", backend.GetSendTimeoutDuration())
	}
	if backend.GetKeepAliveDuration() != 8*time.Second {
		t.Errorf("Expected 8 seconds, got %v", backend.GetKeepAliveDuration())
	}
	if backend.GetCloseGraceDuration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", backend.GetCloseGraceDuration())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to file",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "/var/log/dictation.log"},
			valid:  true,
		},
		{
			name:   "invalid level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "empty output",
			config: LoggingConfig{Level: "info", Format: "json"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
