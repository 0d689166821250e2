package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// EventType identifies a discrete notification from the VAD engine
type EventType int

const (
	// EventSpeechStart signals the engine detected the onset of speech.
	// It typically arrives a few frames after the audio actually began;
	// pre-speech padding in the tracker compensates.
	EventSpeechStart EventType = iota
	// EventSpeechEnd signals the engine detected the end of speech
	EventSpeechEnd
	// EventMisfire signals the engine retracted an earlier speech start as a
	// false positive. Advisory only: consumers log and count it, they do not
	// roll back state.
	EventMisfire
)

// String returns a human-readable representation of the event type
func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventMisfire:
		return "misfire"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is one discrete VAD notification. Time is the capture timestamp of
// the frame that triggered the transition, not the wall-clock time the event
// was delivered.
type Event struct {
	Type       EventType
	Time       time.Time
	Confidence float32
}

// Engine is the contract for a voice activity detection engine. Implementations
// return a per-frame speech probability in [0,1] and deliver discrete
// start/end/misfire events to the registered handler. The handler is invoked
// synchronously from ProcessFrame, so events arrive in frame order.
type Engine interface {
	ProcessFrame(samples []float32, timestamp time.Time) (float32, error)
	SetEventHandler(fn func(Event))
	Reset()
}

// EnergyEngineConfig contains tuning for the energy-based engine
type EnergyEngineConfig struct {
	SampleRate int
	FrameSize  int     // samples per frame
	Threshold  float32 // probability above which a frame counts as voiced

	StartFrames   int // consecutive voiced frames before SpeechStart fires
	ConfirmFrames int // voiced frames after start before the start is confirmed
	EndFrames     int // consecutive unvoiced frames before SpeechEnd fires
}

// EnergyEngine is a reference Engine implementation using RMS energy as the
// speech probability. Production deployments substitute a model-backed engine
// behind the same interface; this one exists so the pipeline runs end to end
// without external inference and so tests have a deterministic engine.
type EnergyEngine struct {
	config  EnergyEngineConfig
	handler func(Event)

	inSpeech    bool
	confirmed   bool
	voicedRun   int
	unvoicedRun int
	framesSince int // frames since the current speech start

	totalFrames  uint64
	voicedFrames uint64
	starts       uint64
	misfires     uint64

	mu sync.Mutex
}

// EnergyEngineStats represents engine statistics for monitoring
type EnergyEngineStats struct {
	TotalFrames  uint64 `json:"total_frames"`
	VoicedFrames uint64 `json:"voiced_frames"`
	Starts       uint64 `json:"starts"`
	Misfires     uint64 `json:"misfires"`
}

// NewEnergyEngine creates an energy-based VAD engine
func NewEnergyEngine(config EnergyEngineConfig) (*EnergyEngine, error) {
	if config.Threshold < 0 || config.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", config.Threshold)
	}
	if config.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", config.FrameSize)
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.StartFrames < 1 {
		config.StartFrames = 1
	}
	if config.ConfirmFrames < config.StartFrames {
		config.ConfirmFrames = config.StartFrames
	}
	if config.EndFrames < 1 {
		config.EndFrames = 1
	}

	return &EnergyEngine{config: config}, nil
}

// SetEventHandler registers the handler receiving discrete events. Must be
// called before the first ProcessFrame.
func (e *EnergyEngine) SetEventHandler(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = fn
}

// ProcessFrame computes the speech probability for one frame and advances the
// voiced/unvoiced hangover counters, emitting events on transitions.
func (e *EnergyEngine) ProcessFrame(samples []float32, timestamp time.Time) (float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(samples) != e.config.FrameSize {
		return 0, fmt.Errorf("expected %d samples, got %d", e.config.FrameSize, len(samples))
	}

	probability := rmsProbability(samples)
	voiced := probability >= e.config.Threshold

	e.totalFrames++
	if voiced {
		e.voicedFrames++
	}

	if !e.inSpeech {
		if voiced {
			e.voicedRun++
			if e.voicedRun >= e.config.StartFrames {
				e.inSpeech = true
				e.confirmed = false
				e.framesSince = 0
				e.unvoicedRun = 0
				e.starts++
				e.emit(Event{Type: EventSpeechStart, Time: timestamp, Confidence: probability})
			}
		} else {
			e.voicedRun = 0
		}
		return probability, nil
	}

	e.framesSince++
	if voiced {
		e.unvoicedRun = 0
		if !e.confirmed && e.framesSince >= e.config.ConfirmFrames {
			e.confirmed = true
		}
	} else {
		e.unvoicedRun++
		if e.unvoicedRun >= e.config.EndFrames {
			if !e.confirmed {
				// Speech collapsed before the confirmation window filled:
				// retract the start, then end the activity normally.
				e.misfires++
				e.emit(Event{Type: EventMisfire, Time: timestamp, Confidence: probability})
			}
			e.inSpeech = false
			e.confirmed = false
			e.voicedRun = 0
			e.unvoicedRun = 0
			e.emit(Event{Type: EventSpeechEnd, Time: timestamp, Confidence: probability})
		}
	}

	return probability, nil
}

// Reset clears detection state and statistics
func (e *EnergyEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inSpeech = false
	e.confirmed = false
	e.voicedRun = 0
	e.unvoicedRun = 0
	e.framesSince = 0
	e.totalFrames = 0
	e.voicedFrames = 0
	e.starts = 0
	e.misfires = 0
}

// GetStats returns current engine statistics
func (e *EnergyEngine) GetStats() EnergyEngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return EnergyEngineStats{
		TotalFrames:  e.totalFrames,
		VoicedFrames: e.voicedFrames,
		Starts:       e.starts,
		Misfires:     e.misfires,
	}
}

// emit delivers an event to the handler. Caller must hold the lock; the
// handler is expected to be fast (the tracker applies it under its own lock).
func (e *EnergyEngine) emit(ev Event) {
	if e.handler != nil {
		e.handler(ev)
	}
}

// rmsProbability maps the RMS energy of a frame of [-1,1] samples onto a
// crude speech probability in [0,1]. Speech at normal microphone levels has
// an RMS around 0.05-0.3, so a gain of 4 saturates well below full scale.
func rmsProbability(samples []float32) float32 {
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	rms := math.Sqrt(energy / float64(len(samples)))

	probability := rms * 4
	if probability > 1 {
		probability = 1
	}
	return float32(probability)
}
