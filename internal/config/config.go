// Package config provides YAML configuration loading and validation for the
// mic audio service
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Queue         QueueConfig         `yaml:"queue"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Notify        NotifyConfig        `yaml:"notify"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	UDPPort              int    `yaml:"udp_port"`
	BindAddress          string `yaml:"bind_address"`
	BufferSize           int    `yaml:"buffer_size"`
	MaxConcurrentStreams int    `yaml:"max_concurrent_streams"`
	StreamTimeout        int    `yaml:"stream_timeout"` // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio buffering parameters
type AudioConfig struct {
	SampleRate         int `yaml:"sample_rate"`
	FrameSize          int `yaml:"frame_size"`           // samples
	BufferFrames       int `yaml:"buffer_frames"`        // rolling buffer capacity
	ExtractToleranceMs int `yaml:"extract_tolerance_ms"` // boundary slack for extraction
	MaxPayloadBytes    int `yaml:"max_payload_bytes"`    // cap on extracted WAV size
}

// VADConfig contains voice activity detection and boundary tracking
// configuration
type VADConfig struct {
	Threshold           float32 `yaml:"threshold"`
	StartFrames         int     `yaml:"start_frames"`
	ConfirmFrames       int     `yaml:"confirm_frames"`
	EndFrames           int     `yaml:"end_frames"`
	PreSpeechPaddingMs  int     `yaml:"pre_speech_padding_ms"`
	PostSpeechPaddingMs int     `yaml:"post_speech_padding_ms"`
	SpeechEndDelayMs    int     `yaml:"speech_end_delay_ms"`
	ConfidenceSmoothing float64 `yaml:"confidence_smoothing"`
}

// PipelineConfig contains segment pipeline configuration
type PipelineConfig struct {
	MinUtteranceBytes int `yaml:"min_utterance_bytes"`
}

// QueueConfig contains transcription queue configuration
type QueueConfig struct {
	Workers      int `yaml:"workers"`
	YieldDelayMs int `yaml:"yield_delay_ms"`
	MaxPending   int `yaml:"max_pending"` // 0 = unbounded
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
}

// NotifyConfig contains observer notification configuration
type NotifyConfig struct {
	FlushIntervalMs int `yaml:"flush_interval_ms"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates UDP server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.MaxConcurrentStreams < 1 {
		return fmt.Errorf("max_concurrent_streams must be at least 1, got %d", s.MaxConcurrentStreams)
	}

	if s.StreamTimeout < 1 {
		return fmt.Errorf("stream_timeout must be at least 1 second, got %d", s.StreamTimeout)
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

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.FrameSize < 256 || a.FrameSize > 2048 {
		return fmt.Errorf("frame_size must be between 256 and 2048 samples, got %d", a.FrameSize)
	}

	if a.BufferFrames < 10 {
		return fmt.Errorf("buffer_frames must be at least 10, got %d", a.BufferFrames)
	}

	if a.ExtractToleranceMs < 0 {
		return fmt.Errorf("extract_tolerance_ms cannot be negative, got %d", a.ExtractToleranceMs)
	}

	if a.MaxPayloadBytes < 0 {
		return fmt.Errorf("max_payload_bytes cannot be negative, got %d", a.MaxPayloadBytes)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.StartFrames < 1 {
		return fmt.Errorf("start_frames must be at least 1, got %d", v.StartFrames)
	}

	if v.ConfirmFrames < v.StartFrames {
		return fmt.Errorf("confirm_frames (%d) must be at least start_frames (%d)",
			v.ConfirmFrames, v.StartFrames)
	}

	if v.EndFrames < 1 {
		return fmt.Errorf("end_frames must be at least 1, got %d", v.EndFrames)
	}

	if v.PreSpeechPaddingMs < 0 {
		return fmt.Errorf("pre_speech_padding_ms cannot be negative, got %d", v.PreSpeechPaddingMs)
	}

	if v.PostSpeechPaddingMs < 0 {
		return fmt.Errorf("post_speech_padding_ms cannot be negative, got %d", v.PostSpeechPaddingMs)
	}

	if v.SpeechEndDelayMs < 1 {
		return fmt.Errorf("speech_end_delay_ms must be at least 1, got %d", v.SpeechEndDelayMs)
	}

	if v.ConfidenceSmoothing <= 0 || v.ConfidenceSmoothing > 1 {
		return fmt.Errorf("confidence_smoothing must be in (0, 1], got %f", v.ConfidenceSmoothing)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.MinUtteranceBytes < 0 {
		return fmt.Errorf("min_utterance_bytes cannot be negative, got %d", p.MinUtteranceBytes)
	}

	return nil
}

// Validate validates queue configuration
func (q *QueueConfig) Validate() error {
	if q.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", q.Workers)
	}

	if q.YieldDelayMs < 0 {
		return fmt.Errorf("yield_delay_ms cannot be negative, got %d", q.YieldDelayMs)
	}

	if q.MaxPending < 0 {
		return fmt.Errorf("max_pending cannot be negative, got %d", q.MaxPending)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates notify configuration
func (n *NotifyConfig) Validate() error {
	if n.FlushIntervalMs < 1 {
		return fmt.Errorf("flush_interval_ms must be at least 1, got %d", n.FlushIntervalMs)
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

	return nil
}

// GetStreamTimeoutDuration returns the stream timeout as a time.Duration
func (s *ServerConfig) GetStreamTimeoutDuration() time.Duration {
	return time.Duration(s.StreamTimeout) * time.Second
}

// GetExtractTolerance returns the extraction tolerance as a time.Duration
func (a *AudioConfig) GetExtractTolerance() time.Duration {
	return time.Duration(a.ExtractToleranceMs) * time.Millisecond
}

// GetPreSpeechPadding returns the pre-speech padding as a time.Duration
func (v *VADConfig) GetPreSpeechPadding() time.Duration {
	return time.Duration(v.PreSpeechPaddingMs) * time.Millisecond
}

// GetPostSpeechPadding returns the post-speech padding as a time.Duration
func (v *VADConfig) GetPostSpeechPadding() time.Duration {
	return time.Duration(v.PostSpeechPaddingMs) * time.Millisecond
}

// GetSpeechEndDelay returns the speech end debounce delay as a time.Duration
func (v *VADConfig) GetSpeechEndDelay() time.Duration {
	return time.Duration(v.SpeechEndDelayMs) * time.Millisecond
}

// GetYieldDelay returns the queue yield delay as a time.Duration
func (q *QueueConfig) GetYieldDelay() time.Duration {
	return time.Duration(q.YieldDelayMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetFlushInterval returns the notify flush interval as a time.Duration
func (n *NotifyConfig) GetFlushInterval() time.Duration {
	return time.Duration(n.FlushIntervalMs) * time.Millisecond
}
