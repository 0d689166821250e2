package audio

import (
	"sync"
	"time"
)

// Frame is one decoded chunk of audio samples paired with the wall-clock
// time at which it was captured. Frames are immutable once appended; the
// FrameBuffer is their sole owner.
type Frame struct {
	Samples   []float32
	Timestamp time.Time
}

// FrameBuffer retains a rolling window of recent audio frames and answers
// "give me the audio between T1 and T2" queries with tolerance for clock
// imprecision between the capture layer and the VAD-reported boundaries.
//
// The buffer is a fixed-capacity ring: append is O(1) and evicts the oldest
// frame once capacity is exceeded, so the producer is never blocked and
// memory is bounded regardless of session length.
type FrameBuffer struct {
	frames     []Frame
	head       int // next write position
	count      int
	capacity   int
	sampleRate int
	tolerance  time.Duration
	maxPayload int // hard cap on extracted WAV size in bytes

	appended uint64
	evicted  uint64

	mu sync.Mutex
}

// FrameBufferStats represents buffer statistics for monitoring
type FrameBufferStats struct {
	Frames            int     `json:"frames"`
	Capacity          int     `json:"capacity"`
	FramesAppended    uint64  `json:"frames_appended"`
	FramesEvicted     uint64  `json:"frames_evicted"`
	AvailableDuration float64 `json:"available_duration_seconds"`
}

// NewFrameBuffer creates a frame buffer holding at most capacity frames.
// Tolerance widens extraction bounds on both sides; maxPayloadBytes caps the
// size of any single extracted WAV buffer (0 means no cap).
func NewFrameBuffer(capacity, sampleRate int, tolerance time.Duration, maxPayloadBytes int) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBuffer{
		frames:     make([]Frame, capacity),
		capacity:   capacity,
		sampleRate: sampleRate,
		tolerance:  tolerance,
		maxPayload: maxPayloadBytes,
	}
}

// Append stores a frame, evicting the oldest one if the buffer is full.
// The samples are copied so the caller may reuse its slice. Append never
// fails and never blocks beyond the internal lock.
func (b *FrameBuffer) Append(samples []float32, timestamp time.Time) {
	frame := Frame{
		Samples:   make([]float32, len(samples)),
		Timestamp: timestamp,
	}
	copy(frame.Samples, samples)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames[b.head] = frame
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	} else {
		b.evicted++
	}
	b.appended++
}

// ExtractBetween selects all frames whose timestamp falls inside
// [start-tolerance, end+tolerance], concatenates their samples in order and
// encodes the result as WAV. The second return value is false when no frames
// fall in range, when the range is invalid (end not after start), or when
// the result would exceed the payload cap. All of these are expected
// outcomes, not errors; an invalid range degrades to "no data" rather than
// propagating a crash into the capture path.
func (b *FrameBuffer) ExtractBetween(start, end time.Time) ([]byte, bool) {
	if !end.After(start) {
		return nil, false
	}

	lo := start.Add(-b.tolerance)
	hi := end.Add(b.tolerance)

	b.mu.Lock()

	total := 0
	first := b.head - b.count
	for i := 0; i < b.count; i++ {
		idx := ((first+i)%b.capacity + b.capacity) % b.capacity
		ts := b.frames[idx].Timestamp
		if !ts.Before(lo) && !ts.After(hi) {
			total += len(b.frames[idx].Samples)
		}
	}

	if total == 0 {
		b.mu.Unlock()
		return nil, false
	}

	if b.maxPayload > 0 && WAVHeaderSize+total*2 > b.maxPayload {
		b.mu.Unlock()
		return nil, false
	}

	samples := make([]float32, 0, total)
	for i := 0; i < b.count; i++ {
		idx := ((first+i)%b.capacity + b.capacity) % b.capacity
		ts := b.frames[idx].Timestamp
		if !ts.Before(lo) && !ts.After(hi) {
			samples = append(samples, b.frames[idx].Samples...)
		}
	}
	sampleRate := b.sampleRate
	b.mu.Unlock()

	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		return nil, false
	}

	return data, true
}

// AvailableDuration returns the time span between the oldest and newest
// retained frame. Callers use it to judge whether an extraction request is
// even satisfiable.
func (b *FrameBuffer) AvailableDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < 2 {
		return 0
	}

	oldest := b.frameAt(0).Timestamp
	newest := b.frameAt(b.count - 1).Timestamp
	return newest.Sub(oldest)
}

// EarliestTimestamp returns the timestamp of the oldest retained frame.
// The second return value is false when the buffer is empty.
func (b *FrameBuffer) EarliestTimestamp() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return time.Time{}, false
	}
	return b.frameAt(0).Timestamp, true
}

// Len returns the current number of retained frames
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// SampleRate returns the buffer's sample rate
func (b *FrameBuffer) SampleRate() int {
	return b.sampleRate
}

// Reset discards all retained frames, releasing their memory. Counters are
// preserved for monitoring.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.frames {
		b.frames[i] = Frame{}
	}
	b.head = 0
	b.count = 0
}

// GetStats returns current buffer statistics
func (b *FrameBuffer) GetStats() FrameBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	available := float64(0)
	if b.count >= 2 {
		available = b.frameAt(b.count - 1).Timestamp.Sub(b.frameAt(0).Timestamp).Seconds()
	}

	return FrameBufferStats{
		Frames:            b.count,
		Capacity:          b.capacity,
		FramesAppended:    b.appended,
		FramesEvicted:     b.evicted,
		AvailableDuration: available,
	}
}

// frameAt returns the i-th retained frame in append order (0 = oldest).
// Caller must hold the lock.
func (b *FrameBuffer) frameAt(i int) *Frame {
	first := b.head - b.count
	idx := ((first+i)%b.capacity + b.capacity) % b.capacity
	return &b.frames[idx]
}
