package notify

import (
	"sync"
	"time"
)

// EventType identifies the kind of observer event
type EventType string

const (
	// EventConfidence carries a throttled smoothed confidence value
	EventConfidence EventType = "confidence"
	// EventSpeechActive carries a speech activity transition
	EventSpeechActive EventType = "speech_active"
	// EventSegmentCreated fires when a segment enters the pipeline
	EventSegmentCreated EventType = "segment_created"
	// EventSegmentCompleted fires when a segment finishes transcription
	EventSegmentCompleted EventType = "segment_completed"
	// EventSegmentFailed fires when a segment fails terminally
	EventSegmentFailed EventType = "segment_failed"
)

// Event is one observer notification. Segment carries a segment snapshot for
// lifecycle events and is nil otherwise.
type Event struct {
	Type       EventType `json:"type"`
	StreamID   uint32    `json:"stream_id"`
	Time       time.Time `json:"time"`
	Confidence float32   `json:"confidence,omitempty"`
	Active     bool      `json:"active,omitempty"`
	Segment    any       `json:"segment,omitempty"`
}

// Hub broadcasts events to subscribers. Confidence updates are coalesced per
// stream and flushed on a ticker so a frame-rate producer cannot flood slow
// observers; everything else broadcasts immediately.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	pending map[uint32]float32
	dirty   bool

	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once

	published uint64
	dropped   uint64
}

// NewHub creates a hub flushing coalesced confidence updates every
// flushInterval
func NewHub(flushInterval time.Duration) *Hub {
	if flushInterval <= 0 {
		flushInterval = 250 * time.Millisecond
	}

	h := &Hub{
		subs:          make(map[int]chan Event),
		pending:       make(map[uint32]float32),
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
	go h.flushLoop()
	return h
}

// Subscribe registers a new observer with the given channel buffer. Returns
// the subscription ID and the event channel.
func (h *Hub) Subscribe(buffer int) (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, buffer)
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes an observer and closes its channel
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// PublishConfidence records the latest smoothed confidence for a stream.
// Values are coalesced: only the most recent value per stream survives to
// the next flush.
func (h *Hub) PublishConfidence(streamID uint32, confidence float32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pending[streamID] = confidence
	h.dirty = true
}

// PublishSpeechActive broadcasts a speech activity transition immediately
func (h *Hub) PublishSpeechActive(streamID uint32, active bool) {
	h.publish(Event{
		Type:     EventSpeechActive,
		StreamID: streamID,
		Time:     time.Now(),
		Active:   active,
	})
}

// PublishSegment broadcasts a segment lifecycle event immediately
func (h *Hub) PublishSegment(eventType EventType, streamID uint32, snapshot any) {
	h.publish(Event{
		Type:     eventType,
		StreamID: streamID,
		Time:     time.Now(),
		Segment:  snapshot,
	})
}

// publish delivers an event to all subscribers without blocking
func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast(ev)
}

// broadcast requires the lock held
func (h *Hub) broadcast(ev Event) {
	for _, ch := range h.subs {
		select {
		case ch <- ev:
			h.published++
		default:
			h.dropped++
		}
	}
}

func (h *Hub) flushLoop() {
	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.flush()
		case <-h.done:
			return
		}
	}
}

func (h *Hub) flush() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return
	}
	now := time.Now()
	for streamID, confidence := range h.pending {
		h.broadcast(Event{
			Type:       EventConfidence,
			StreamID:   streamID,
			Time:       now,
			Confidence: confidence,
		})
		delete(h.pending, streamID)
	}
	h.dirty = false
}

// HubStats represents hub statistics for monitoring
type HubStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return HubStats{
		Subscribers: len(h.subs),
		Published:   h.published,
		Dropped:     h.dropped,
	}
}

// Stop terminates the flush loop and closes all subscriber channels
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		for id, ch := range h.subs {
			delete(h.subs, id)
			close(ch)
		}
	})
}
