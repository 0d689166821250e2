package segment

import (
	"log/slog"

	"github.com/skypro1111/mic-audio-service/internal/audio"
	"github.com/skypro1111/mic-audio-service/internal/metrics"
	"github.com/skypro1111/mic-audio-service/internal/notify"
	"github.com/skypro1111/mic-audio-service/internal/vad"
)

// PipelineConfig contains segment pipeline parameters
type PipelineConfig struct {
	// MinUtteranceBytes is the smallest WAV payload worth transcribing.
	// Shorter extractions complete immediately with empty text instead of
	// being queued.
	MinUtteranceBytes int
}

// Pipeline turns finalized utterance ranges into segments: it extracts the
// padded audio from the frame buffer, short-circuits utterances too small to
// carry speech, and enqueues the rest for transcription.
type Pipeline struct {
	config   PipelineConfig
	streamID uint32
	buffer   *audio.FrameBuffer
	store    *Store
	queue    *Queue
	hub      *notify.Hub
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewPipeline creates a segment pipeline for one stream. hub and metrics may
// be nil.
func NewPipeline(config PipelineConfig, streamID uint32, buffer *audio.FrameBuffer,
	store *Store, queue *Queue, hub *notify.Hub, m *metrics.Metrics, logger *slog.Logger) *Pipeline {

	return &Pipeline{
		config:   config,
		streamID: streamID,
		buffer:   buffer,
		store:    store,
		queue:    queue,
		hub:      hub,
		metrics:  m,
		logger:   logger,
	}
}

// OnFinalizedRange processes one finalized utterance range. Always produces a
// segment; whether it reaches the transcription queue depends on how much
// audio the extraction yields.
func (p *Pipeline) OnFinalizedRange(r vad.FinalizedRange) {
	data, ok := p.buffer.ExtractBetween(r.Start, r.End)

	payloadBytes := 0
	if ok {
		payloadBytes = len(data) - audio.WAVHeaderSize
	}

	seg := NewSegment(p.streamID, r.Start, r.End, r.Confidence, data, p.buffer.SampleRate())

	if !ok || payloadBytes < p.config.MinUtteranceBytes {
		// Too little audio to carry speech. Complete with empty text so the
		// utterance is visibly resolved rather than silently dropped, and
		// skip the queue entirely.
		seg.CompleteEmpty()
		p.store.Append(seg)
		p.metrics.RecordSegmentEmptySkip()
		p.publish(notify.EventSegmentCompleted, seg)

		p.logger.Debug("Short utterance completed empty",
			"segment_id", seg.ID,
			"stream_id", p.streamID,
			"payload_bytes", payloadBytes,
			"min_bytes", p.config.MinUtteranceBytes)
		return
	}

	p.store.Append(seg)
	p.metrics.RecordSegmentCreated(len(data))
	p.publish(notify.EventSegmentCreated, seg)

	p.logger.Info("Segment created",
		"segment_id", seg.ID,
		"stream_id", p.streamID,
		"duration", r.End.Sub(r.Start),
		"audio_bytes", len(data))

	p.queue.Enqueue(seg)
}

func (p *Pipeline) publish(eventType notify.EventType, seg *Segment) {
	if p.hub != nil {
		p.hub.PublishSegment(eventType, p.streamID, seg.Snapshot())
	}
}
