package vad

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Tracker states
const (
	StateIdle            = "idle"
	StateSpeechActive    = "speech_active"
	StatePendingFinalize = "pending_finalize"
)

// Tracker transition events
const (
	eventSpeechStart   = "speech_start"
	eventSpeechResume  = "speech_resume"
	eventSpeechEnd     = "speech_end"
	eventFinalize      = "finalize"
	eventForceFinalize = "force_finalize"
)

// TrackerConfig contains speech boundary tracking parameters
type TrackerConfig struct {
	// PreSpeechPadding is subtracted from the speech start timestamp so the
	// extracted utterance keeps the attack of the first word.
	PreSpeechPadding time.Duration
	// PostSpeechPadding is added after the speech end so trailing consonants
	// survive.
	PostSpeechPadding time.Duration
	// SpeechEndDelay is how long after a speech end to wait before finalizing.
	// Speech resuming inside this window merges into the same utterance.
	SpeechEndDelay time.Duration
	// ConfidenceWeight is the EMA coefficient applied to new per-frame
	// confidence values, in (0,1]. Higher values track faster.
	ConfidenceWeight float64
}

// FinalizedRange is one clean utterance time range produced by the tracker
type FinalizedRange struct {
	Start      time.Time
	End        time.Time
	Confidence float32
}

// Tracker turns the engine's noisy event stream into finalized utterance
// ranges. It debounces speech ends with a cancellable timer so brief pauses
// merge into one utterance, pads both boundaries, and reports a smoothed
// confidence for UI consumption.
//
// Callers must serialize HandleEvent and ForceFinalize externally per stream;
// the internal mutex only protects against the debounce timer firing
// concurrently with an event.
type Tracker struct {
	config TrackerConfig
	logger *slog.Logger

	machine *fsm.FSM

	sessionStart     time.Time
	provisionalStart time.Time
	lastSpeechEnd    time.Time
	lastConfidence   float32

	endTimer *time.Timer

	smoothed    float64
	hasSmoothed bool

	finalized uint64
	merges    uint64
	misfires  uint64
	forced    uint64

	onFinalize func(FinalizedRange)
	onActive   func(bool)

	mu sync.Mutex
}

// TrackerStats represents tracker statistics for monitoring
type TrackerStats struct {
	State         string    `json:"state"`
	Finalized     uint64    `json:"finalized_count"`
	Merges        uint64    `json:"merge_count"`
	Misfires      uint64    `json:"misfire_count"`
	Forced        uint64    `json:"forced_count"`
	LastSpeechEnd time.Time `json:"last_speech_end"`
}

// NewTracker creates a speech boundary tracker. sessionStart clamps the
// pre-speech padding so the first utterance never reaches before the stream
// began. onFinalize is invoked for every finalized range; onActive is invoked
// on idle/active transitions and may be nil.
func NewTracker(config TrackerConfig, sessionStart time.Time, logger *slog.Logger,
	onFinalize func(FinalizedRange), onActive func(bool)) *Tracker {

	if config.ConfidenceWeight <= 0 || config.ConfidenceWeight > 1 {
		config.ConfidenceWeight = 0.1
	}

	t := &Tracker{
		config:       config,
		logger:       logger,
		sessionStart: sessionStart,
		onFinalize:   onFinalize,
		onActive:     onActive,
	}

	t.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventSpeechStart, Src: []string{StateIdle}, Dst: StateSpeechActive},
			{Name: eventSpeechResume, Src: []string{StatePendingFinalize}, Dst: StateSpeechActive},
			{Name: eventSpeechEnd, Src: []string{StateSpeechActive}, Dst: StatePendingFinalize},
			{Name: eventFinalize, Src: []string{StatePendingFinalize}, Dst: StateIdle},
			{Name: eventForceFinalize, Src: []string{StateSpeechActive, StatePendingFinalize}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)

	return t
}

// HandleEvent applies one engine event to the tracker
func (t *Tracker) HandleEvent(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case EventSpeechStart:
		t.handleSpeechStart(ev)
	case EventSpeechEnd:
		t.handleSpeechEnd(ev)
	case EventMisfire:
		// Advisory only. The segment-level length check absorbs whatever
		// tiny utterance the misfire leaves behind.
		t.misfires++
		t.logger.Debug("VAD misfire reported",
			"time", ev.Time,
			"confidence", ev.Confidence)
	}
}

func (t *Tracker) handleSpeechStart(ev Event) {
	t.lastConfidence = ev.Confidence

	switch t.machine.Current() {
	case StateIdle:
		start := ev.Time.Add(-t.config.PreSpeechPadding)
		if start.Before(t.sessionStart) {
			start = t.sessionStart
		}
		t.provisionalStart = start
		t.fire(eventSpeechStart)
		t.notifyActive(true)

		t.logger.Debug("Speech started",
			"event_time", ev.Time,
			"provisional_start", start)

	case StatePendingFinalize:
		// Speech resumed inside the debounce window: cancel the pending
		// finalize and keep the original provisional start.
		t.stopEndTimer()
		t.merges++
		t.fire(eventSpeechResume)

		t.logger.Debug("Speech resumed, merging utterance",
			"event_time", ev.Time,
			"provisional_start", t.provisionalStart)

	case StateSpeechActive:
		// Duplicate start from the engine, nothing to do
	}
}

func (t *Tracker) handleSpeechEnd(ev Event) {
	if t.machine.Current() != StateSpeechActive {
		return
	}

	t.lastSpeechEnd = ev.Time
	t.lastConfidence = ev.Confidence
	t.fire(eventSpeechEnd)

	t.stopEndTimer()
	t.endTimer = time.AfterFunc(t.config.SpeechEndDelay, t.onEndTimerFired)

	t.logger.Debug("Speech ended, debounce pending",
		"event_time", ev.Time,
		"delay", t.config.SpeechEndDelay)
}

// onEndTimerFired finalizes the pending utterance once the debounce window
// elapses without speech resuming.
func (t *Tracker) onEndTimerFired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.machine.Current() != StatePendingFinalize {
		// Timer lost the race with a resume or force finalize
		return
	}

	t.fire(eventFinalize)
	end := time.Now().Add(t.config.PostSpeechPadding)
	t.finalize(end)
}

// ForceFinalize immediately closes any in-progress utterance, for stream
// teardown or an explicit flush. No-op when idle.
func (t *Tracker) ForceFinalize(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.machine.Current()
	if state != StateSpeechActive && state != StatePendingFinalize {
		return
	}

	t.stopEndTimer()
	t.forced++
	t.fire(eventForceFinalize)
	t.finalize(now.Add(t.config.PostSpeechPadding))
}

// finalize emits the finalized range. Caller must hold the lock and have
// already transitioned the machine to idle.
func (t *Tracker) finalize(end time.Time) {
	r := FinalizedRange{
		Start:      t.provisionalStart,
		End:        end,
		Confidence: t.lastConfidence,
	}
	t.finalized++
	t.notifyActive(false)

	t.logger.Info("Utterance finalized",
		"start", r.Start,
		"end", r.End,
		"duration", r.End.Sub(r.Start),
		"confidence", r.Confidence)

	if t.onFinalize != nil {
		t.onFinalize(r)
	}
}

// OnFrameProcessed folds one per-frame confidence into the smoothed value
func (t *Tracker) OnFrameProcessed(confidence float32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasSmoothed {
		t.smoothed = float64(confidence)
		t.hasSmoothed = true
		return
	}
	w := t.config.ConfidenceWeight
	t.smoothed = w*float64(confidence) + (1-w)*t.smoothed
}

// SmoothedConfidence returns the EMA-smoothed speech confidence. Reporting
// only; boundary decisions never consult it.
func (t *Tracker) SmoothedConfidence() float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float32(t.smoothed)
}

// State returns the current tracker state name
func (t *Tracker) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.Current()
}

// GetStats returns current tracker statistics
func (t *Tracker) GetStats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TrackerStats{
		State:         t.machine.Current(),
		Finalized:     t.finalized,
		Merges:        t.merges,
		Misfires:      t.misfires,
		Forced:        t.forced,
		LastSpeechEnd: t.lastSpeechEnd,
	}
}

// Stop cancels any pending debounce timer without finalizing
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopEndTimer()
}

func (t *Tracker) stopEndTimer() {
	if t.endTimer != nil {
		t.endTimer.Stop()
		t.endTimer = nil
	}
}

func (t *Tracker) fire(event string) {
	if err := t.machine.Event(context.Background(), event); err != nil {
		t.logger.Error("Tracker transition failed",
			"event", event,
			"state", t.machine.Current(),
			"error", err)
	}
}

func (t *Tracker) notifyActive(active bool) {
	if t.onActive != nil {
		t.onActive(active)
	}
}
