package segment

import (
	"context"
	"testing"
	"time"

	"github.com/skypro1111/mic-audio-service/internal/audio"
	"github.com/skypro1111/mic-audio-service/internal/vad"
)

const pipelineSampleRate = 16000

// fillBuffer appends n 512-sample frames of the given amplitude starting at
// base and returns the timestamp after the last frame
func fillBuffer(buffer *audio.FrameBuffer, base time.Time, n int, value float32) time.Time {
	frameDuration := 32 * time.Millisecond
	ts := base
	for i := 0; i < n; i++ {
		samples := make([]float32, 512)
		for j := range samples {
			samples[j] = value
		}
		buffer.Append(samples, ts)
		ts = ts.Add(frameDuration)
	}
	return ts
}

func testPipeline(t *testing.T, minBytes int) (*Pipeline, *audio.FrameBuffer, *Store, *Queue, *fakeTranscriber) {
	t.Helper()

	buffer := audio.NewFrameBuffer(1000, pipelineSampleRate, 50*time.Millisecond, 0)
	store := NewStore()
	ft := &fakeTranscriber{response: "transcribed"}
	queue := NewQueue(QueueConfig{Workers: 1}, ft, nil, nil, testLogger())
	t.Cleanup(func() { queue.Stop(context.Background()) })

	pipeline := NewPipeline(PipelineConfig{MinUtteranceBytes: minBytes},
		1, buffer, store, queue, nil, nil, testLogger())
	return pipeline, buffer, store, queue, ft
}

func TestPipelineShortUtteranceCompletesEmpty(t *testing.T) {
	pipeline, buffer, store, queue, ft := testPipeline(t, 2000)

	// A single 512-sample frame is 1024 payload bytes, under the 2000 byte
	// floor, so the extraction succeeds but the segment short-circuits
	base := time.Now()
	fillBuffer(buffer, base, 1, 0.3)

	pipeline.OnFinalizedRange(vad.FinalizedRange{
		Start:      base.Add(-10 * time.Millisecond),
		End:        base.Add(10 * time.Millisecond),
		Confidence: 0.4,
	})

	if store.Len() != 1 {
		t.Fatalf("Expected 1 stored segment, got %d", store.Len())
	}

	snap := store.Snapshots()[0]
	if snap.State != StateCompleted.String() {
		t.Errorf("Expected completed state, got %s", snap.State)
	}
	if snap.Text != "" {
		t.Errorf("Expected empty text, got %q", snap.Text)
	}
	if snap.TextConfidence != 0 {
		t.Errorf("Expected zero text confidence, got %f", snap.TextConfidence)
	}

	// Short-circuit must bypass the queue entirely
	if stats := queue.GetStats(); stats.Enqueued != 0 {
		t.Errorf("Expected nothing enqueued, got %d", stats.Enqueued)
	}
	time.Sleep(50 * time.Millisecond)
	if seen := ft.seen(); len(seen) != 0 {
		t.Errorf("Expected no transcription calls, got %d", len(seen))
	}
}

func TestPipelineNormalUtteranceEnqueued(t *testing.T) {
	pipeline, buffer, store, queue, _ := testPipeline(t, 1000)

	base := time.Now()
	end := fillBuffer(buffer, base, 40, 0.3)

	pipeline.OnFinalizedRange(vad.FinalizedRange{
		Start:      base.Add(100 * time.Millisecond),
		End:        end.Add(-100 * time.Millisecond),
		Confidence: 0.9,
	})

	if store.Len() != 1 {
		t.Fatalf("Expected 1 stored segment, got %d", store.Len())
	}
	if stats := queue.GetStats(); stats.Enqueued != 1 {
		t.Errorf("Expected 1 enqueued segment, got %d", stats.Enqueued)
	}

	// The worker completes it with the fake transcriber's text
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Snapshots()[0].State == StateCompleted.String() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	snap := store.Snapshots()[0]
	if snap.State != StateCompleted.String() {
		t.Fatalf("Expected completed segment, got %s", snap.State)
	}
	if snap.Text != "transcribed" {
		t.Errorf("Expected transcribed text, got %q", snap.Text)
	}
	if snap.AudioBytes <= audio.WAVHeaderSize {
		t.Errorf("Expected non-trivial audio payload, got %d bytes", snap.AudioBytes)
	}
}

func TestPipelineNoAudioInRange(t *testing.T) {
	pipeline, _, store, queue, _ := testPipeline(t, 1000)

	// Buffer is empty: extraction fails, segment still completes empty
	now := time.Now()
	pipeline.OnFinalizedRange(vad.FinalizedRange{
		Start:      now.Add(-time.Second),
		End:        now,
		Confidence: 0.5,
	})

	if store.Len() != 1 {
		t.Fatalf("Expected 1 stored segment, got %d", store.Len())
	}
	snap := store.Snapshots()[0]
	if snap.State != StateCompleted.String() || snap.Text != "" {
		t.Errorf("Expected empty completion, got state %s text %q", snap.State, snap.Text)
	}
	if stats := queue.GetStats(); stats.Enqueued != 0 {
		t.Errorf("Expected nothing enqueued, got %d", stats.Enqueued)
	}
}
