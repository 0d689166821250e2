package segment

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State represents where a segment is in its transcription lifecycle
type State int

const (
	// StatePending means the segment is queued and waiting for a worker
	StatePending State = iota
	// StateProcessing means a worker has sent the segment for transcription
	StateProcessing
	// StateCompleted means transcription finished, possibly with empty text
	StateCompleted
	// StateFailed means transcription failed after all retries
	StateFailed
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Segment is one finalized utterance with its extracted audio and
// transcription result. Audio is a complete WAV file ready for upload.
type Segment struct {
	ID         string
	StreamID   uint32
	Start      time.Time
	End        time.Time
	Confidence float32
	Audio      []byte
	SampleRate int
	CreatedAt  time.Time

	mu             sync.Mutex
	state          State
	text           string
	textConfidence float32
	failReason     string
}

// Snapshot is an immutable view of a segment for API and event consumers.
// Audio bytes are excluded.
type Snapshot struct {
	ID             string    `json:"id"`
	StreamID       uint32    `json:"stream_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	DurationMs     int64     `json:"duration_ms"`
	Confidence     float32   `json:"confidence"`
	AudioBytes     int       `json:"audio_bytes"`
	State          string    `json:"state"`
	Text           string    `json:"text"`
	TextConfidence float32   `json:"text_confidence"`
	FailReason     string    `json:"fail_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewSegment creates a pending segment for a finalized utterance range
func NewSegment(streamID uint32, start, end time.Time, confidence float32, audio []byte, sampleRate int) *Segment {
	return &Segment{
		ID:         uuid.NewString(),
		StreamID:   streamID,
		Start:      start,
		End:        end,
		Confidence: confidence,
		Audio:      audio,
		SampleRate: sampleRate,
		CreatedAt:  time.Now(),
		state:      StatePending,
	}
}

// MarkProcessing transitions the segment to processing
func (s *Segment) MarkProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateProcessing
}

// Complete records a successful transcription result
func (s *Segment) Complete(text string, confidence float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateCompleted
	s.text = text
	s.textConfidence = confidence
}

// CompleteEmpty marks the segment as legitimately containing no speech.
// Distinct from Fail: the backend (or the short-utterance check) decided
// there is nothing to transcribe, which is a valid terminal outcome.
func (s *Segment) CompleteEmpty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateCompleted
	s.text = ""
	s.textConfidence = 0
}

// Fail records a terminal transcription failure
func (s *Segment) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.failReason = reason
}

// State returns the current lifecycle state
func (s *Segment) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns an immutable view of the segment
func (s *Segment) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:             s.ID,
		StreamID:       s.StreamID,
		Start:          s.Start,
		End:            s.End,
		DurationMs:     s.End.Sub(s.Start).Milliseconds(),
		Confidence:     s.Confidence,
		AudioBytes:     len(s.Audio),
		State:          s.state.String(),
		Text:           s.text,
		TextConfidence: s.textConfidence,
		FailReason:     s.failReason,
		CreatedAt:      s.CreatedAt,
	}
}

// Store holds segments for one stream in creation order
type Store struct {
	mu       sync.Mutex
	segments []*Segment
}

// NewStore creates an empty segment store
func NewStore() *Store {
	return &Store{}
}

// Append adds a segment to the store
func (st *Store) Append(s *Segment) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.segments = append(st.segments, s)
}

// Snapshots returns views of all segments in creation order
func (st *Store) Snapshots() []Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]Snapshot, len(st.segments))
	for i, s := range st.segments {
		out[i] = s.Snapshot()
	}
	return out
}

// Len returns the number of stored segments
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.segments)
}

// Clear removes all segments
func (st *Store) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.segments = nil
}
