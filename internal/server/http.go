package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/mic-audio-service/internal/config"
	"github.com/skypro1111/mic-audio-service/internal/metrics"
	"github.com/skypro1111/mic-audio-service/internal/notify"
	"github.com/skypro1111/mic-audio-service/internal/segment"
	"github.com/skypro1111/mic-audio-service/internal/stream"
	"github.com/skypro1111/mic-audio-service/internal/transcription"
)

// HTTPServer provides HTTP API endpoints for monitoring and observers
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	streamMgr *stream.Manager
	udpServer *UDPServer
	hub       *notify.Hub
	queue     *segment.Queue
	client    *transcription.Client
	metrics   *metrics.Metrics

	upgrader websocket.Upgrader

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	streamMgr *stream.Manager, udpServer *UDPServer, hub *notify.Hub,
	queue *segment.Queue, client *transcription.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		streamMgr: streamMgr,
		udpServer: udpServer,
		hub:       hub,
		queue:     queue,
		client:    client,
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/streams", h.withMetrics("/streams", h.handleStreams))
	mux.HandleFunc("/streams/", h.withMetrics("/streams/{id}", h.handleStreamDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// WebSocket event feed for observers; timeouts on the outer server do
	// not apply since the connection is hijacked on upgrade
	mux.HandleFunc("/events", h.handleEvents)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	udpStats := h.udpServer.GetStatistics()
	queueStats := h.queue.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "mic-audio-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"udp_server": map[string]interface{}{
				"status":            "running",
				"packets_received":  udpStats.PacketsReceived,
				"packets_processed": udpStats.PacketsProcessed,
				"parse_errors":      udpStats.ParseErrors,
				"queue_size":        udpStats.QueueSize,
			},
			"stream_manager": map[string]interface{}{
				"status":         "running",
				"active_streams": udpStats.ActiveStreams,
			},
			"transcription_queue": map[string]interface{}{
				"status":    "running",
				"pending":   queueStats.Pending,
				"processed": queueStats.Processed,
				"failed":    queueStats.Failed,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.streamMgr.GetAllSessions()

	response := map[string]interface{}{
		"total_streams": len(sessions),
		"timestamp":     time.Now().UTC(),
		"streams":       sessions,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStreamDetail implements /streams/{stream_id} and
// /streams/{stream_id}/segments
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := r.URL.Path[len("/streams/"):]
	if rest == "" {
		http.Error(w, "Stream ID required", http.StatusBadRequest)
		return
	}

	streamIDStr, tail, _ := strings.Cut(rest, "/")
	streamID, err := strconv.ParseUint(streamIDStr, 10, 32)
	if err != nil {
		http.Error(w, "Invalid stream ID", http.StatusBadRequest)
		return
	}

	session, exists := h.streamMgr.GetSession(uint32(streamID))
	if !exists {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch tail {
	case "":
		json.NewEncoder(w).Encode(session.Info())
	case "segments":
		segments := session.Segments()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"stream_id":      streamID,
			"total_segments": len(segments),
			"segments":       segments,
		})
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Sanitized configuration; the API key is intentionally omitted
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":               h.config.Server.UDPPort,
			"bind_address":           h.config.Server.BindAddress,
			"buffer_size":            h.config.Server.BufferSize,
			"max_concurrent_streams": h.config.Server.MaxConcurrentStreams,
			"stream_timeout":         h.config.Server.StreamTimeout,
		},
		"audio": map[string]interface{}{
			"sample_rate":          h.config.Audio.SampleRate,
			"frame_size":           h.config.Audio.FrameSize,
			"buffer_frames":        h.config.Audio.BufferFrames,
			"extract_tolerance_ms": h.config.Audio.ExtractToleranceMs,
			"max_payload_bytes":    h.config.Audio.MaxPayloadBytes,
		},
		"vad": map[string]interface{}{
			"threshold":              h.config.VAD.Threshold,
			"start_frames":           h.config.VAD.StartFrames,
			"confirm_frames":         h.config.VAD.ConfirmFrames,
			"end_frames":             h.config.VAD.EndFrames,
			"pre_speech_padding_ms":  h.config.VAD.PreSpeechPaddingMs,
			"post_speech_padding_ms": h.config.VAD.PostSpeechPaddingMs,
			"speech_end_delay_ms":    h.config.VAD.SpeechEndDelayMs,
			"confidence_smoothing":   h.config.VAD.ConfidenceSmoothing,
		},
		"pipeline": map[string]interface{}{
			"min_utterance_bytes": h.config.Pipeline.MinUtteranceBytes,
		},
		"queue": map[string]interface{}{
			"workers":        h.config.Queue.Workers,
			"yield_delay_ms": h.config.Queue.YieldDelayMs,
			"max_pending":    h.config.Queue.MaxPending,
		},
		"transcription": map[string]interface{}{
			"endpoint":       h.config.Transcription.Endpoint,
			"timeout":        h.config.Transcription.Timeout,
			"max_retries":    h.config.Transcription.MaxRetries,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
			"language":       h.config.Transcription.Language,
			"model":          h.config.Transcription.Model,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	udpStats := h.udpServer.GetStatistics()
	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"udp": map[string]interface{}{
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"packets_dropped":   udpStats.PacketsDropped,
			"queue_size":        udpStats.QueueSize,
		},
		"queue":         h.queue.GetStats(),
		"transcription": h.client.GetStats(),
		"notify":        h.hub.GetStats(),
		"streams": map[string]interface{}{
			"active_count": h.streamMgr.SessionCount(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleEvents implements the /events WebSocket endpoint. Each connection
// gets its own hub subscription; slow connections drop events rather than
// backing up the pipeline.
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	id, events := h.hub.Subscribe(256)
	h.logger.Info("Observer connected",
		slog.Int("subscription_id", id),
		slog.String("remote_addr", r.RemoteAddr),
	)

	defer func() {
		h.hub.Unsubscribe(id)
		conn.Close()
		h.logger.Info("Observer disconnected", slog.Int("subscription_id", id))
	}()

	// Read pump: discard client messages, detect close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Mic Audio Transcription Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                             "API documentation",
			"GET /health":                       "Service health check",
			"GET /streams":                      "List all active streams",
			"GET /streams/{stream_id}":          "Get detailed stream information",
			"GET /streams/{stream_id}/segments": "List a stream's utterance segments",
			"GET /config":                       "Get service configuration",
			"GET /stats":                        "Get service statistics",
			"GET /events":                       "WebSocket event feed",
			"GET /metrics":                      "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
