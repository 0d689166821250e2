package segment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/mic-audio-service/internal/metrics"
	"github.com/skypro1111/mic-audio-service/internal/notify"
	"github.com/skypro1111/mic-audio-service/internal/transcription"
)

// Transcriber is the queue's view of the transcription backend
type Transcriber interface {
	Transcribe(ctx context.Context, req *transcription.Request) (*transcription.Result, error)
}

// QueueConfig contains transcription queue parameters
type QueueConfig struct {
	// Workers is the number of concurrent transcription workers
	Workers int
	// YieldDelay is slept after each completed job so audio processing gets
	// scheduler time between transcriptions
	YieldDelay time.Duration
	// RequestTimeout bounds one transcription attempt chain
	RequestTimeout time.Duration
	// MaxPending rejects new segments beyond this queue depth. Zero means
	// unbounded.
	MaxPending int
}

// Queue is the FIFO transcription queue. Segments are processed in arrival
// order by a fixed pool of workers; one failing segment never blocks the
// segments behind it.
type Queue struct {
	config      QueueConfig
	transcriber Transcriber
	hub         *notify.Hub
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu      sync.Mutex
	pending []*Segment

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	enqueued  uint64
	processed uint64
	failed    uint64
	rejected  uint64
}

// QueueStats represents queue statistics for monitoring
type QueueStats struct {
	Pending   int    `json:"pending"`
	Enqueued  uint64 `json:"enqueued"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
}

// NewQueue creates a transcription queue and starts its workers. hub and
// metrics may be nil.
func NewQueue(config QueueConfig, transcriber Transcriber, hub *notify.Hub,
	m *metrics.Metrics, logger *slog.Logger) *Queue {

	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		config:      config,
		transcriber: transcriber,
		hub:         hub,
		metrics:     m,
		logger:      logger,
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	return q
}

// Enqueue adds a segment to the back of the queue. Returns false when the
// queue is bounded and full; the segment is failed, not silently dropped.
func (q *Queue) Enqueue(seg *Segment) bool {
	q.mu.Lock()
	if q.config.MaxPending > 0 && len(q.pending) >= q.config.MaxPending {
		q.rejected++
		q.mu.Unlock()

		seg.Fail(fmt.Sprintf("transcription queue full (%d pending)", q.config.MaxPending))
		q.publishSegment(notify.EventSegmentFailed, seg)
		q.logger.Warn("Transcription queue full, segment failed",
			"segment_id", seg.ID,
			"max_pending", q.config.MaxPending)
		return false
	}

	q.pending = append(q.pending, seg)
	q.enqueued++
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.SetTranscriptionQueueSize(depth)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the current queue depth
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// pop removes the oldest pending segment, or returns nil
func (q *Queue) pop() *Segment {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	seg := q.pending[0]
	q.pending = q.pending[1:]
	return seg
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		seg := q.pop()
		if seg == nil {
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				return
			}
		}

		q.process(seg)
		q.metrics.SetTranscriptionQueueSize(q.Len())

		if q.config.YieldDelay > 0 {
			time.Sleep(q.config.YieldDelay)
		}
	}
}

// process runs one segment through transcription and records the outcome
func (q *Queue) process(seg *Segment) {
	seg.MarkProcessing()

	req := &transcription.Request{
		RequestID:  seg.ID,
		SegmentID:  seg.ID,
		StreamID:   seg.StreamID,
		Audio:      seg.Audio,
		SampleRate: seg.SampleRate,
		Format:     "wav",
		Duration:   seg.End.Sub(seg.Start),
		CapturedAt: seg.Start,
	}

	start := time.Now()
	q.metrics.RecordTranscriptionRequest()

	// Not tied to q.ctx: a job already in flight finishes during shutdown
	// instead of surfacing as a spurious failure.
	ctx, cancel := context.WithTimeout(context.Background(), q.config.RequestTimeout)
	result, err := q.transcriber.Transcribe(ctx, req)
	cancel()

	elapsed := time.Since(start)

	if err != nil {
		q.mu.Lock()
		q.failed++
		q.mu.Unlock()

		seg.Fail(err.Error())
		q.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		q.publishSegment(notify.EventSegmentFailed, seg)

		q.logger.Error("Segment transcription failed",
			"segment_id", seg.ID,
			"stream_id", seg.StreamID,
			"error", err)
		return
	}

	if result.Text == "" {
		seg.CompleteEmpty()
	} else {
		seg.Complete(result.Text, result.Confidence)
	}

	q.mu.Lock()
	q.processed++
	q.mu.Unlock()

	q.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	q.publishSegment(notify.EventSegmentCompleted, seg)

	q.logger.Info("Segment transcribed",
		"segment_id", seg.ID,
		"stream_id", seg.StreamID,
		"text_length", len(result.Text),
		"latency", elapsed)
}

func (q *Queue) publishSegment(eventType notify.EventType, seg *Segment) {
	if q.hub != nil {
		q.hub.PublishSegment(eventType, seg.StreamID, seg.Snapshot())
	}
}

// GetStats returns current queue statistics
func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Pending:   len(q.pending),
		Enqueued:  q.enqueued,
		Processed: q.processed,
		Failed:    q.failed,
		Rejected:  q.rejected,
	}
}

// Stop drains the queue until empty or ctx expires, then stops the workers
func (q *Queue) Stop(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

drain:
	for q.Len() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			q.logger.Warn("Queue drain timed out",
				"remaining", q.Len())
			break drain
		}
	}

	q.cancel()
	q.wg.Wait()
	return ctx.Err()
}
