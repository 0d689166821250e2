package vad

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rangeCollector gathers finalized ranges safely across the debounce timer
// goroutine and the test goroutine
type rangeCollector struct {
	mu     sync.Mutex
	ranges []FinalizedRange
}

func (c *rangeCollector) add(r FinalizedRange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ranges = append(c.ranges, r)
}

func (c *rangeCollector) snapshot() []FinalizedRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FinalizedRange, len(c.ranges))
	copy(out, c.ranges)
	return out
}

func testTrackerConfig() TrackerConfig {
	return TrackerConfig{
		PreSpeechPadding:  100 * time.Millisecond,
		PostSpeechPadding: 50 * time.Millisecond,
		SpeechEndDelay:    80 * time.Millisecond,
		ConfidenceWeight:  0.1,
	}
}

func TestTrackerBasicUtterance(t *testing.T) {
	collector := &rangeCollector{}
	sessionStart := time.Now().Add(-10 * time.Second)
	tracker := NewTracker(testTrackerConfig(), sessionStart, testLogger(), collector.add, nil)
	defer tracker.Stop()

	start := time.Now()
	tracker.HandleEvent(Event{Type: EventSpeechStart, Time: start, Confidence: 0.9})

	if tracker.State() != StateSpeechActive {
		t.Errorf("Expected state %s, got %s", StateSpeechActive, tracker.State())
	}

	// Let some speech elapse so the end event carries a capture timestamp in
	// the past, like a real engine's would
	time.Sleep(50 * time.Millisecond)
	end := time.Now()
	tracker.HandleEvent(Event{Type: EventSpeechEnd, Time: end, Confidence: 0.8})

	if tracker.State() != StatePendingFinalize {
		t.Errorf("Expected state %s, got %s", StatePendingFinalize, tracker.State())
	}

	time.Sleep(200 * time.Millisecond)

	ranges := collector.snapshot()
	if len(ranges) != 1 {
		t.Fatalf("Expected 1 finalized range, got %d", len(ranges))
	}
	if tracker.State() != StateIdle {
		t.Errorf("Expected state %s after finalize, got %s", StateIdle, tracker.State())
	}

	r := ranges[0]
	expectedStart := start.Add(-100 * time.Millisecond)
	if !r.Start.Equal(expectedStart) {
		t.Errorf("Expected start %v with pre-padding applied, got %v", expectedStart, r.Start)
	}
	// The debounce timer anchors the finalized end to its wall-clock fire
	// time plus post padding, so it lands no earlier than the end event plus
	// debounce plus post padding
	minEnd := end.Add(80 * time.Millisecond).Add(50 * time.Millisecond)
	if r.End.Before(minEnd) {
		t.Errorf("Expected end no earlier than %v, got %v", minEnd, r.End)
	}
	if r.Confidence != 0.8 {
		t.Errorf("Expected confidence 0.8, got %f", r.Confidence)
	}

	stats := tracker.GetStats()
	if !stats.LastSpeechEnd.Equal(end) {
		t.Errorf("Expected last speech end %v, got %v", end, stats.LastSpeechEnd)
	}
}

func TestTrackerDebounceMerge(t *testing.T) {
	collector := &rangeCollector{}
	tracker := NewTracker(testTrackerConfig(), time.Now().Add(-10*time.Second), testLogger(), collector.add, nil)
	defer tracker.Stop()

	start := time.Now()
	tracker.HandleEvent(Event{Type: EventSpeechStart, Time: start, Confidence: 0.9})
	tracker.HandleEvent(Event{Type: EventSpeechEnd, Time: start.Add(500 * time.Millisecond), Confidence: 0.7})

	// Resume within the 80ms debounce window
	time.Sleep(30 * time.Millisecond)
	tracker.HandleEvent(Event{Type: EventSpeechStart, Time: time.Now(), Confidence: 0.9})

	if tracker.State() != StateSpeechActive {
		t.Errorf("Expected state %s after resume, got %s", StateSpeechActive, tracker.State())
	}
	if len(collector.snapshot()) != 0 {
		t.Error("Expected no finalized range while merged utterance continues")
	}

	tracker.HandleEvent(Event{Type: EventSpeechEnd, Time: time.Now(), Confidence: 0.8})
	time.Sleep(200 * time.Millisecond)

	ranges := collector.snapshot()
	if len(ranges) != 1 {
		t.Fatalf("Expected 1 merged range, got %d", len(ranges))
	}

	// Merged range keeps the first utterance's padded start
	expectedStart := start.Add(-100 * time.Millisecond)
	if !ranges[0].Start.Equal(expectedStart) {
		t.Errorf("Expected merged start %v, got %v", expectedStart, ranges[0].Start)
	}

	stats := tracker.GetStats()
	if stats.Merges != 1 {
		t.Errorf("Expected 1 merge, got %d", stats.Merges)
	}
}

func TestTrackerForceFinalize(t *testing.T) {
	collector := &rangeCollector{}
	tracker := NewTracker(testTrackerConfig(), time.Now().Add(-10*time.Second), testLogger(), collector.add, nil)
	defer tracker.Stop()

	start := time.Now()
	tracker.HandleEvent(Event{Type: EventSpeechStart, Time: start, Confidence: 0.9})

	now := start.Add(2 * time.Second)
	tracker.ForceFinalize(now)

	ranges := collector.snapshot()
	if len(ranges) != 1 {
		t.Fatalf("Expected 1 range from force finalize, got %d", len(ranges))
	}
	if tracker.State() != StateIdle {
		t.Errorf("Expected state %s, got %s", StateIdle, tracker.State())
	}

	expectedEnd := now.Add(50 * time.Millisecond)
	if !ranges[0].End.Equal(expectedEnd) {
		t.Errorf("Expected end %v, got %v", expectedEnd, ranges[0].End)
	}

	// Pending finalize timer must not fire a second range afterwards
	time.Sleep(200 * time.Millisecond)
	if len(collector.snapshot()) != 1 {
		t.Error("Expected no additional ranges after force finalize")
	}
}

func TestTrackerForceFinalizeWhenIdle(t *testing.T) {
	collector := &rangeCollector{}
	tracker := NewTracker(testTrackerConfig(), time.Now(), testLogger(), collector.add, nil)
	defer tracker.Stop()

	tracker.ForceFinalize(time.Now())

	if len(collector.snapshot()) != 0 {
		t.Error("Expected no range from force finalize while idle")
	}
}

func TestTrackerClampsToSessionStart(t *testing.T) {
	collector := &rangeCollector{}
	sessionStart := time.Now()
	tracker := NewTracker(testTrackerConfig(), sessionStart, testLogger(), collector.add, nil)
	defer tracker.Stop()

	// Speech starting 20ms into the session; 100ms pre-padding would reach
	// before the session began
	eventTime := sessionStart.Add(20 * time.Millisecond)
	tracker.HandleEvent(Event{Type: EventSpeechStart, Time: eventTime, Confidence: 0.9})
	tracker.ForceFinalize(eventTime.Add(time.Second))

	ranges := collector.snapshot()
	if len(ranges) != 1 {
		t.Fatalf("Expected 1 range, got %d", len(ranges))
	}
	if !ranges[0].Start.Equal(sessionStart) {
		t.Errorf("Expected start clamped to session start %v, got %v", sessionStart, ranges[0].Start)
	}
}

func TestTrackerMisfireAdvisory(t *testing.T) {
	collector := &rangeCollector{}
	tracker := NewTracker(testTrackerConfig(), time.Now().Add(-10*time.Second), testLogger(), collector.add, nil)
	defer tracker.Stop()

	start := time.Now()
	tracker.HandleEvent(Event{Type: EventSpeechStart, Time: start, Confidence: 0.5})
	tracker.HandleEvent(Event{Type: EventMisfire, Time: start.Add(100 * time.Millisecond), Confidence: 0.1})

	// Misfire is advisory: the tracker stays active until the end event
	if tracker.State() != StateSpeechActive {
		t.Errorf("Expected state %s after misfire, got %s", StateSpeechActive, tracker.State())
	}

	tracker.HandleEvent(Event{Type: EventSpeechEnd, Time: start.Add(100 * time.Millisecond), Confidence: 0.1})
	time.Sleep(200 * time.Millisecond)

	if len(collector.snapshot()) != 1 {
		t.Errorf("Expected the short utterance to still finalize, got %d ranges", len(collector.snapshot()))
	}

	stats := tracker.GetStats()
	if stats.Misfires != 1 {
		t.Errorf("Expected 1 misfire counted, got %d", stats.Misfires)
	}
}

func TestTrackerActiveCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []bool

	collector := &rangeCollector{}
	tracker := NewTracker(testTrackerConfig(), time.Now().Add(-10*time.Second), testLogger(), collector.add,
		func(active bool) {
			mu.Lock()
			transitions = append(transitions, active)
			mu.Unlock()
		})
	defer tracker.Stop()

	start := time.Now()
	tracker.HandleEvent(Event{Type: EventSpeechStart, Time: start, Confidence: 0.9})
	tracker.HandleEvent(Event{Type: EventSpeechEnd, Time: start.Add(time.Second), Confidence: 0.8})
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Errorf("Expected transitions [true false], got %v", transitions)
	}
}

func TestTrackerSmoothedConfidence(t *testing.T) {
	tracker := NewTracker(testTrackerConfig(), time.Now(), testLogger(), nil, nil)
	defer tracker.Stop()

	tracker.OnFrameProcessed(1.0)
	if got := tracker.SmoothedConfidence(); got != 1.0 {
		t.Errorf("Expected first value to seed EMA at 1.0, got %f", got)
	}

	tracker.OnFrameProcessed(0.0)
	got := tracker.SmoothedConfidence()
	if got < 0.89 || got > 0.91 {
		t.Errorf("Expected smoothed confidence near 0.9, got %f", got)
	}
}
