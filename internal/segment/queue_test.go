package segment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/mic-audio-service/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTranscriber records the order segments arrive in and fails the IDs it
// is told to fail
type fakeTranscriber struct {
	mu       sync.Mutex
	order    []string
	failIDs  map[string]bool
	response string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req *transcription.Request) (*transcription.Result, error) {
	f.mu.Lock()
	f.order = append(f.order, req.SegmentID)
	fail := f.failIDs[req.SegmentID]
	f.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("backend rejected segment %s", req.SegmentID)
	}
	return &transcription.Result{Text: f.response, Confidence: 0.95}, nil
}

func (f *fakeTranscriber) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

func testSegment(streamID uint32) *Segment {
	now := time.Now()
	audio := make([]byte, 2048)
	return NewSegment(streamID, now.Add(-time.Second), now, 0.9, audio, 16000)
}

func waitForState(t *testing.T, seg *Segment, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if seg.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Segment %s did not reach state %s, stuck at %s", seg.ID, want, seg.State())
}

func TestQueueFIFOOrder(t *testing.T) {
	ft := &fakeTranscriber{response: "hello"}
	queue := NewQueue(QueueConfig{Workers: 1}, ft, nil, nil, testLogger())
	defer queue.Stop(context.Background())

	segments := []*Segment{testSegment(1), testSegment(1), testSegment(1)}
	for _, seg := range segments {
		if !queue.Enqueue(seg) {
			t.Fatalf("Enqueue rejected segment %s", seg.ID)
		}
	}

	for _, seg := range segments {
		waitForState(t, seg, StateCompleted)
	}

	seen := ft.seen()
	if len(seen) != 3 {
		t.Fatalf("Expected 3 transcription calls, got %d", len(seen))
	}
	for i, seg := range segments {
		if seen[i] != seg.ID {
			t.Errorf("Expected segment %d to be %s, got %s", i, seg.ID, seen[i])
		}
	}
}

func TestQueueFailureIsolation(t *testing.T) {
	segA := testSegment(1)
	segB := testSegment(1)
	segC := testSegment(1)

	ft := &fakeTranscriber{
		response: "ok",
		failIDs:  map[string]bool{segB.ID: true},
	}
	queue := NewQueue(QueueConfig{Workers: 1}, ft, nil, nil, testLogger())
	defer queue.Stop(context.Background())

	queue.Enqueue(segA)
	queue.Enqueue(segB)
	queue.Enqueue(segC)

	waitForState(t, segA, StateCompleted)
	waitForState(t, segB, StateFailed)
	waitForState(t, segC, StateCompleted)

	snapB := segB.Snapshot()
	if snapB.FailReason == "" {
		t.Error("Expected failed segment to carry a failure reason")
	}

	stats := queue.GetStats()
	if stats.Processed != 2 {
		t.Errorf("Expected 2 processed, got %d", stats.Processed)
	}
	if stats.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", stats.Failed)
	}
}

func TestQueueEmptyResultCompletesEmpty(t *testing.T) {
	ft := &fakeTranscriber{response: ""}
	queue := NewQueue(QueueConfig{Workers: 1}, ft, nil, nil, testLogger())
	defer queue.Stop(context.Background())

	seg := testSegment(1)
	queue.Enqueue(seg)
	waitForState(t, seg, StateCompleted)

	snap := seg.Snapshot()
	if snap.Text != "" {
		t.Errorf("Expected empty text, got %q", snap.Text)
	}
	if snap.TextConfidence != 0 {
		t.Errorf("Expected zero confidence, got %f", snap.TextConfidence)
	}
	if snap.FailReason != "" {
		t.Errorf("Expected no failure reason on empty completion, got %q", snap.FailReason)
	}
}

func TestQueueMaxPending(t *testing.T) {
	// Block the single worker with a slow first job so the queue fills
	blocker := make(chan struct{})
	slow := &slowTranscriber{release: blocker}
	queue := NewQueue(QueueConfig{Workers: 1, MaxPending: 1}, slow, nil, nil, testLogger())
	defer func() {
		close(blocker)
		queue.Stop(context.Background())
	}()

	first := testSegment(1)
	queue.Enqueue(first)

	// Give the worker time to pick up the first segment
	deadline := time.Now().Add(time.Second)
	for first.State() != StateProcessing && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second := testSegment(1)
	if !queue.Enqueue(second) {
		t.Fatal("Expected second segment to be accepted")
	}

	third := testSegment(1)
	if queue.Enqueue(third) {
		t.Error("Expected third segment to be rejected at max pending")
	}
	if third.State() != StateFailed {
		t.Errorf("Expected rejected segment to be failed, got %s", third.State())
	}
}

func TestQueueStopDrains(t *testing.T) {
	ft := &fakeTranscriber{response: "done"}
	queue := NewQueue(QueueConfig{Workers: 1}, ft, nil, nil, testLogger())

	segments := []*Segment{testSegment(1), testSegment(1)}
	for _, seg := range segments {
		queue.Enqueue(seg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := queue.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	for _, seg := range segments {
		if seg.State() != StateCompleted {
			t.Errorf("Expected segment %s completed after drain, got %s", seg.ID, seg.State())
		}
	}
}

// slowTranscriber blocks until released
type slowTranscriber struct {
	release chan struct{}
}

func (s *slowTranscriber) Transcribe(ctx context.Context, req *transcription.Request) (*transcription.Result, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &transcription.Result{Text: "slow"}, nil
}
