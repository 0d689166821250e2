package vad

import (
	"testing"
	"time"
)

const (
	testFrameSize  = 512
	testSampleRate = 16000
)

func testEngine(t *testing.T) *EnergyEngine {
	t.Helper()
	engine, err := NewEnergyEngine(EnergyEngineConfig{
		SampleRate:    testSampleRate,
		FrameSize:     testFrameSize,
		Threshold:     0.3,
		StartFrames:   2,
		ConfirmFrames: 5,
		EndFrames:     3,
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

func loudFrame() []float32 {
	samples := make([]float32, testFrameSize)
	for i := range samples {
		samples[i] = 0.2
	}
	return samples
}

func quietFrame() []float32 {
	return make([]float32, testFrameSize)
}

func feedFrames(t *testing.T, engine *EnergyEngine, frame []float32, n int, base time.Time) time.Time {
	t.Helper()
	ts := base
	for i := 0; i < n; i++ {
		if _, err := engine.ProcessFrame(frame, ts); err != nil {
			t.Fatalf("ProcessFrame failed: %v", err)
		}
		ts = ts.Add(32 * time.Millisecond)
	}
	return ts
}

func TestEnergyEngineSilence(t *testing.T) {
	engine := testEngine(t)

	var events []Event
	engine.SetEventHandler(func(ev Event) {
		events = append(events, ev)
	})

	feedFrames(t, engine, quietFrame(), 50, time.Now())

	if len(events) != 0 {
		t.Errorf("Expected no events for silence, got %d", len(events))
	}

	stats := engine.GetStats()
	if stats.TotalFrames != 50 {
		t.Errorf("Expected 50 total frames, got %d", stats.TotalFrames)
	}
	if stats.VoicedFrames != 0 {
		t.Errorf("Expected 0 voiced frames, got %d", stats.VoicedFrames)
	}
}

func TestEnergyEngineSpeechStartEnd(t *testing.T) {
	engine := testEngine(t)

	var events []Event
	engine.SetEventHandler(func(ev Event) {
		events = append(events, ev)
	})

	base := time.Now()
	next := feedFrames(t, engine, loudFrame(), 10, base)
	feedFrames(t, engine, quietFrame(), 5, next)

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventSpeechStart {
		t.Errorf("Expected speech start first, got %s", events[0].Type)
	}
	if events[1].Type != EventSpeechEnd {
		t.Errorf("Expected speech end second, got %s", events[1].Type)
	}
	if !events[1].Time.After(events[0].Time) {
		t.Error("Expected end timestamp after start timestamp")
	}

	stats := engine.GetStats()
	if stats.Starts != 1 {
		t.Errorf("Expected 1 start, got %d", stats.Starts)
	}
	if stats.Misfires != 0 {
		t.Errorf("Expected 0 misfires, got %d", stats.Misfires)
	}
}

func TestEnergyEngineMisfire(t *testing.T) {
	engine := testEngine(t)

	var events []Event
	engine.SetEventHandler(func(ev Event) {
		events = append(events, ev)
	})

	// 3 voiced frames triggers a start but falls short of the 5-frame
	// confirmation window
	base := time.Now()
	next := feedFrames(t, engine, loudFrame(), 3, base)
	feedFrames(t, engine, quietFrame(), 5, next)

	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[0].Type != EventSpeechStart {
		t.Errorf("Expected speech start, got %s", events[0].Type)
	}
	if events[1].Type != EventMisfire {
		t.Errorf("Expected misfire, got %s", events[1].Type)
	}
	if events[2].Type != EventSpeechEnd {
		t.Errorf("Expected speech end after misfire, got %s", events[2].Type)
	}

	stats := engine.GetStats()
	if stats.Misfires != 1 {
		t.Errorf("Expected 1 misfire, got %d", stats.Misfires)
	}
}

func TestEnergyEngineReset(t *testing.T) {
	engine := testEngine(t)
	engine.SetEventHandler(func(Event) {})

	feedFrames(t, engine, loudFrame(), 10, time.Now())
	engine.Reset()

	stats := engine.GetStats()
	if stats.TotalFrames != 0 || stats.Starts != 0 {
		t.Errorf("Expected zeroed stats after reset, got %+v", stats)
	}
}

func TestEnergyEngineFrameSizeMismatch(t *testing.T) {
	engine := testEngine(t)

	_, err := engine.ProcessFrame(make([]float32, 100), time.Now())
	if err == nil {
		t.Error("Expected error for wrong frame size")
	}
}
