// Package metrics provides Prometheus metrics for the mic audio service
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the mic audio service.
// All Record helpers tolerate a nil receiver so components can run without
// metrics wired, as in tests.
type Metrics struct {
	// Ingress metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	PacketQueueSize  prometheus.Gauge

	// Stream metrics
	ActiveStreams    prometheus.Gauge
	StreamsCreated   prometheus.Counter
	StreamsDestroyed prometheus.Counter
	StreamDuration   prometheus.Histogram

	// Frame buffer metrics
	FramesAppended prometheus.Counter
	FramesEvicted  prometheus.Counter

	// VAD metrics
	VADFramesProcessed  prometheus.Counter
	VADFramesVoiced     prometheus.Counter
	VADMisfires         prometheus.Counter
	UtterancesFinalized prometheus.Counter
	UtteranceDuration   prometheus.Histogram
	UtteranceMerges     prometheus.Counter

	// Segment pipeline metrics
	SegmentsCreated    prometheus.Counter
	SegmentsEmptySkip  prometheus.Counter
	SegmentSize        prometheus.Histogram
	TranscriptionQueue prometheus.Gauge

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics against the given registerer. Tests use
// this with a private registry so repeated construction never collides.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_packets_received_total",
			Help: "Total number of UDP packets received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_packets_processed_total",
			Help: "Total number of UDP packets successfully processed",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		PacketQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mic_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mic_active_streams",
			Help: "Current number of active audio streams",
		}),
		StreamsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_streams_created_total",
			Help: "Total number of streams created",
		}),
		StreamsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_streams_destroyed_total",
			Help: "Total number of streams destroyed",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mic_stream_duration_seconds",
			Help:    "Duration of audio streams in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		FramesAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_frames_appended_total",
			Help: "Total number of audio frames appended to stream buffers",
		}),
		FramesEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_frames_evicted_total",
			Help: "Total number of audio frames evicted from full buffers",
		}),

		VADFramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_vad_frames_processed_total",
			Help: "Total number of frames run through the VAD engine",
		}),
		VADFramesVoiced: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_vad_frames_voiced_total",
			Help: "Total number of frames classified as voiced",
		}),
		VADMisfires: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_vad_misfires_total",
			Help: "Total number of VAD misfire advisories",
		}),
		UtterancesFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_utterances_finalized_total",
			Help: "Total number of finalized utterance ranges",
		}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mic_utterance_duration_seconds",
			Help:    "Duration of finalized utterances",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to ~1 minute
		}),
		UtteranceMerges: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_utterance_merges_total",
			Help: "Total number of utterances merged across brief pauses",
		}),

		SegmentsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_segments_created_total",
			Help: "Total number of segments created for transcription",
		}),
		SegmentsEmptySkip: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_segments_empty_skipped_total",
			Help: "Total number of segments completed empty without transcription",
		}),
		SegmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mic_segment_size_bytes",
			Help:    "Size of segment WAV payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		TranscriptionQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mic_transcription_queue_size",
			Help: "Current number of segments waiting for transcription",
		}),

		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mic_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mic_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mic_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mic_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	if m == nil {
		return
	}
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// SetPacketQueueSize sets the current packet queue size
func (m *Metrics) SetPacketQueueSize(size int) {
	if m == nil {
		return
	}
	m.PacketQueueSize.Set(float64(size))
}

// SetActiveStreams sets the current number of active streams
func (m *Metrics) SetActiveStreams(count int) {
	if m == nil {
		return
	}
	m.ActiveStreams.Set(float64(count))
}

// RecordStreamCreated increments the streams created counter
func (m *Metrics) RecordStreamCreated() {
	if m == nil {
		return
	}
	m.StreamsCreated.Inc()
}

// RecordStreamDestroyed increments the streams destroyed counter and records duration
func (m *Metrics) RecordStreamDestroyed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.StreamsDestroyed.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordFrameAppended counts an appended frame and any evictions it caused
func (m *Metrics) RecordFrameAppended(evicted bool) {
	if m == nil {
		return
	}
	m.FramesAppended.Inc()
	if evicted {
		m.FramesEvicted.Inc()
	}
}

// RecordVADFrame counts a processed frame and whether it was voiced
func (m *Metrics) RecordVADFrame(voiced bool) {
	if m == nil {
		return
	}
	m.VADFramesProcessed.Inc()
	if voiced {
		m.VADFramesVoiced.Inc()
	}
}

// RecordVADMisfire increments the misfire counter
func (m *Metrics) RecordVADMisfire() {
	if m == nil {
		return
	}
	m.VADMisfires.Inc()
}

// RecordUtteranceFinalized records one finalized utterance range
func (m *Metrics) RecordUtteranceFinalized(durationSeconds float64) {
	if m == nil {
		return
	}
	m.UtterancesFinalized.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

// RecordUtteranceMerge increments the merged utterances counter
func (m *Metrics) RecordUtteranceMerge() {
	if m == nil {
		return
	}
	m.UtteranceMerges.Inc()
}

// RecordSegmentCreated records a segment entering the transcription pipeline
func (m *Metrics) RecordSegmentCreated(sizeBytes int) {
	if m == nil {
		return
	}
	m.SegmentsCreated.Inc()
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordSegmentEmptySkip counts a segment completed empty without transcription
func (m *Metrics) RecordSegmentEmptySkip() {
	if m == nil {
		return
	}
	m.SegmentsEmptySkip.Inc()
}

// SetTranscriptionQueueSize sets the current transcription queue depth
func (m *Metrics) SetTranscriptionQueueSize(size int) {
	if m == nil {
		return
	}
	m.TranscriptionQueue.Set(float64(size))
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
