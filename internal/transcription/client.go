package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/mic-audio-service/internal/metrics"
)

// Config contains transcription service configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Language      string
	Model         string
}

// Request represents one utterance submitted for transcription
type Request struct {
	RequestID  string
	SegmentID  string
	StreamID   uint32
	Audio      []byte // complete WAV file
	SampleRate int
	Format     string
	Duration   time.Duration
	CapturedAt time.Time
}

// Result represents a transcription response from the backend
type Result struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

// ClientStats represents client statistics for monitoring
type ClientStats struct {
	RequestsSent    uint64        `json:"requests_sent"`
	RequestsSuccess uint64        `json:"requests_success"`
	RequestsFailed  uint64        `json:"requests_failed"`
	RequestsRetried uint64        `json:"requests_retried"`
	TotalDuration   time.Duration `json:"-"`
	AverageLatency  time.Duration `json:"average_latency"`
}

// Client sends utterance audio to the transcription backend. Concurrency is
// bounded by a semaphore so a burst of finalized utterances cannot open an
// unbounded number of connections.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
	metrics    *metrics.Metrics
	logger     *slog.Logger

	stats   ClientStats
	statsMu sync.Mutex
}

// NewClient creates a transcription client. m may be nil.
func NewClient(config Config, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("transcription endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
		metrics:   m,
		logger:    logger,
	}, nil
}

// Transcribe submits one request and returns the backend's result, retrying
// transient failures with exponential backoff
func (c *Client) Transcribe(ctx context.Context, req *Request) (*Result, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for transcription slot: %w", ctx.Err())
	}

	start := time.Now()

	var result *Result
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.statsMu.Lock()
			c.stats.RequestsRetried++
			c.statsMu.Unlock()
			c.metrics.RecordTranscriptionRetry()

			backoff := retryBackoff(attempt)
			c.logger.Warn("Retrying transcription request",
				"request_id", req.RequestID,
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("transcription cancelled during backoff: %w", ctx.Err())
			}
		}

		result, lastErr = c.doRequest(ctx, req)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			break
		}
	}

	elapsed := time.Since(start)

	c.statsMu.Lock()
	c.stats.RequestsSent++
	c.stats.TotalDuration += elapsed
	if lastErr == nil {
		c.stats.RequestsSuccess++
	} else {
		c.stats.RequestsFailed++
	}
	c.statsMu.Unlock()

	if lastErr != nil {
		return nil, lastErr
	}

	c.logger.Debug("Transcription completed",
		"request_id", req.RequestID,
		"segment_id", req.SegmentID,
		"latency", elapsed,
		"text_length", len(result.Text))

	return result, nil
}

// doRequest performs one multipart upload attempt
func (c *Client) doRequest(ctx context.Context, req *Request) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	filename := fmt.Sprintf("utterance_%s.wav", req.SegmentID)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"request_id":  req.RequestID,
		"segment_id":  req.SegmentID,
		"stream_id":   fmt.Sprintf("%d", req.StreamID),
		"sample_rate": fmt.Sprintf("%d", req.SampleRate),
		"format":      req.Format,
		"duration_ms": fmt.Sprintf("%d", req.Duration.Milliseconds()),
		"captured_at": req.CapturedAt.UTC().Format(time.RFC3339Nano),
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	stats := c.stats
	if stats.RequestsSuccess > 0 {
		stats.AverageLatency = stats.TotalDuration / time.Duration(stats.RequestsSuccess)
	}
	return stats
}

// Close releases client resources
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// retryBackoff returns the delay before the given retry attempt, doubling
// each time with up to 25% jitter so parallel retries spread out
func retryBackoff(attempt int) time.Duration {
	base := 500 * time.Millisecond
	backoff := base << (attempt - 1)
	if backoff > 10*time.Second {
		backoff = 10 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(backoff) / 4))
	return backoff + jitter
}

// isRetryableError reports whether an error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	retryable := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"temporary failure",
		"no such host",
		"status 502",
		"status 503",
		"status 504",
		"status 429",
	}
	for _, s := range retryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
