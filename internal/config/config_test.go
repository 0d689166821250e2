package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			UDPPort:              4444,
			BindAddress:          "0.0.0.0",
			BufferSize:           65536,
			MaxConcurrentStreams: 100,
			StreamTimeout:        300,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate:         16000,
			FrameSize:          512,
			BufferFrames:       1000,
			ExtractToleranceMs: 50,
			MaxPayloadBytes:    10485760,
		},
		VAD: VADConfig{
			Threshold:           0.5,
			StartFrames:         3,
			ConfirmFrames:       8,
			EndFrames:           5,
			PreSpeechPaddingMs:  250,
			PostSpeechPaddingMs: 400,
			SpeechEndDelayMs:    1000,
			ConfidenceSmoothing: 0.1,
		},
		Pipeline: PipelineConfig{
			MinUtteranceBytes: 1000,
		},
		Queue: QueueConfig{
			Workers:      1,
			YieldDelayMs: 5,
		},
		Transcription: TranscriptionConfig{
			Endpoint:      "https://api.example.com/transcribe",
			APIKey:        "test-key",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Notify: NotifyConfig{
			FlushIntervalMs: 250,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid udp port",
			mutate:      func(c *Config) { c.Server.UDPPort = 70000 },
			expectError: true,
		},
		{
			name:        "empty bind address",
			mutate:      func(c *Config) { c.Server.BindAddress = "" },
			expectError: true,
		},
		{
			name:        "unsupported sample rate",
			mutate:      func(c *Config) { c.Audio.SampleRate = 44100 },
			expectError: true,
		},
		{
			name:        "frame size too small",
			mutate:      func(c *Config) { c.Audio.FrameSize = 100 },
			expectError: true,
		},
		{
			name:        "vad threshold out of range",
			mutate:      func(c *Config) { c.VAD.Threshold = 1.5 },
			expectError: true,
		},
		{
			name:        "confirm frames below start frames",
			mutate:      func(c *Config) { c.VAD.ConfirmFrames = 1 },
			expectError: true,
		},
		{
			name:        "zero speech end delay",
			mutate:      func(c *Config) { c.VAD.SpeechEndDelayMs = 0 },
			expectError: true,
		},
		{
			name:        "negative min utterance bytes",
			mutate:      func(c *Config) { c.Pipeline.MinUtteranceBytes = -1 },
			expectError: true,
		},
		{
			name:        "zero queue workers",
			mutate:      func(c *Config) { c.Queue.Workers = 0 },
			expectError: true,
		},
		{
			name:        "unbounded queue is valid",
			mutate:      func(c *Config) { c.Queue.MaxPending = 0 },
			expectError: false,
		},
		{
			name:        "missing transcription endpoint",
			mutate:      func(c *Config) { c.Transcription.Endpoint = "" },
			expectError: true,
		},
		{
			name:        "empty api key is valid",
			mutate:      func(c *Config) { c.Transcription.APIKey = "" },
			expectError: false,
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
		},
		{
			name: "http disabled skips http validation",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected valid config, got error: %v", err)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	content := `
server:
  udp_port: 4444
  bind_address: "0.0.0.0"
  buffer_size: 65536
  max_concurrent_streams: 100
  stream_timeout: 300
http:
  port: 8080
  address: "0.0.0.0"
  enabled: true
audio:
  sample_rate: 16000
  frame_size: 512
  buffer_frames: 1000
  extract_tolerance_ms: 50
  max_payload_bytes: 10485760
vad:
  threshold: 0.5
  start_frames: 3
  confirm_frames: 8
  end_frames: 5
  pre_speech_padding_ms: 250
  post_speech_padding_ms: 400
  speech_end_delay_ms: 1000
  confidence_smoothing: 0.1
pipeline:
  min_utterance_bytes: 1000
queue:
  workers: 1
  yield_delay_ms: 5
  max_pending: 0
transcription:
  endpoint: "https://api.example.com/transcribe"
  api_key: "secret"
  timeout: 30
  max_retries: 3
  max_concurrent: 4
  language: "en"
notify:
  flush_interval_ms: 250
logging:
  level: "info"
  format: "json"
  output: "stdout"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Server.UDPPort != 4444 {
		t.Errorf("Expected UDP port 4444, got %d", config.Server.UDPPort)
	}
	if config.Audio.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", config.Audio.SampleRate)
	}
	if config.VAD.SpeechEndDelayMs != 1000 {
		t.Errorf("Expected speech end delay 1000ms, got %d", config.VAD.SpeechEndDelayMs)
	}
	if config.Transcription.Language != "en" {
		t.Errorf("Expected language 'en', got %q", config.Transcription.Language)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestDurationHelpers(t *testing.T) {
	config := validConfig()

	if got := config.VAD.GetSpeechEndDelay(); got != time.Second {
		t.Errorf("Expected 1s speech end delay, got %v", got)
	}
	if got := config.VAD.GetPreSpeechPadding(); got != 250*time.Millisecond {
		t.Errorf("Expected 250ms pre padding, got %v", got)
	}
	if got := config.Audio.GetExtractTolerance(); got != 50*time.Millisecond {
		t.Errorf("Expected 50ms tolerance, got %v", got)
	}
	if got := config.Server.GetStreamTimeoutDuration(); got != 5*time.Minute {
		t.Errorf("Expected 5m stream timeout, got %v", got)
	}
	if got := config.Queue.GetYieldDelay(); got != 5*time.Millisecond {
		t.Errorf("Expected 5ms yield delay, got %v", got)
	}
}
