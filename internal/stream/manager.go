// Package stream manages per-stream session lifecycle and wires the audio
// path together: ingress frames feed the frame buffer and VAD engine, the
// boundary tracker finalizes utterance ranges, and the segment pipeline cuts
// and queues them for transcription.
package stream

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/mic-audio-service/internal/audio"
	"github.com/skypro1111/mic-audio-service/internal/metrics"
	"github.com/skypro1111/mic-audio-service/internal/notify"
	"github.com/skypro1111/mic-audio-service/internal/protocol"
	"github.com/skypro1111/mic-audio-service/internal/segment"
	"github.com/skypro1111/mic-audio-service/internal/transcription"
	"github.com/skypro1111/mic-audio-service/internal/vad"
)

// SessionConfig contains per-session audio pipeline parameters
type SessionConfig struct {
	SampleRate       int
	FrameSize        int
	BufferFrames     int
	ExtractTolerance time.Duration
	MaxPayloadBytes  int

	VAD      vad.EnergyEngineConfig
	Tracker  vad.TrackerConfig
	Pipeline segment.PipelineConfig
}

// ManagerConfig contains stream manager configuration
type ManagerConfig struct {
	MaxConcurrentStreams int
	SessionTimeout       time.Duration
	CleanupInterval      time.Duration
}

// Session is one live microphone stream: its frame buffer, VAD engine,
// boundary tracker, segment store, and counters. All frame processing is
// serialized under mu, which also serializes the tracker events the engine
// emits synchronously from ProcessFrame.
type Session struct {
	ID           uint32
	Source       string
	SampleRate   int
	StartTime    time.Time
	LastActivity time.Time

	Buffer   *audio.FrameBuffer
	Engine   vad.Engine
	Tracker  *vad.Tracker
	Pipeline *segment.Pipeline
	Store    *segment.Store

	framesIngested uint64
	lastSequence   uint32
	gaps           uint64

	mu      sync.Mutex
	manager *Manager
}

// SessionInfo represents session information for API responses
type SessionInfo struct {
	ID             uint32    `json:"id"`
	Source         string    `json:"source"`
	SampleRate     int       `json:"sample_rate"`
	StartTime      time.Time `json:"start_time"`
	LastActivity   time.Time `json:"last_activity"`
	FramesIngested uint64    `json:"frames_ingested"`
	SequenceGaps   uint64    `json:"sequence_gaps"`
	BufferedMs     int64     `json:"buffered_ms"`
	TrackerState   string    `json:"tracker_state"`
	Confidence     float32   `json:"confidence"`
	SegmentCount   int       `json:"segment_count"`
}

// Manager coordinates all active stream sessions
type Manager struct {
	config        ManagerConfig
	sessionConfig SessionConfig

	sessions map[uint32]*Session
	mu       sync.RWMutex

	hub     *notify.Hub
	queue   *segment.Queue
	client  *transcription.Client
	metrics *metrics.Metrics
	logger  *slog.Logger

	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewManager creates a stream manager. The queue and hub are shared across
// all sessions so transcription ordering holds service-wide.
func NewManager(config ManagerConfig, sessionConfig SessionConfig, hub *notify.Hub,
	queue *segment.Queue, client *transcription.Client, m *metrics.Metrics, logger *slog.Logger) *Manager {

	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}

	mgr := &Manager{
		config:        config,
		sessionConfig: sessionConfig,
		sessions:      make(map[uint32]*Session),
		hub:           hub,
		queue:         queue,
		client:        client,
		metrics:       m,
		logger:        logger,
		cleanupDone:   make(chan struct{}),
	}

	go mgr.cleanupLoop()
	return mgr
}

// CreateSession creates a session for a newly announced stream. A hello for
// an existing stream ID resets the session.
func (m *Manager) CreateSession(streamID uint32, hello *protocol.HelloPayload) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[streamID]; ok {
		m.logger.Info("Stream re-announced, resetting session",
			"stream_id", streamID,
			"source", hello.GetSource())
		existing.reset()
		return existing, nil
	}

	if m.config.MaxConcurrentStreams > 0 && len(m.sessions) >= m.config.MaxConcurrentStreams {
		return nil, fmt.Errorf("maximum concurrent streams reached (%d)", m.config.MaxConcurrentStreams)
	}

	sampleRate := int(hello.SampleRate)
	if sampleRate == 0 {
		sampleRate = m.sessionConfig.SampleRate
	}
	if sampleRate != m.sessionConfig.SampleRate {
		return nil, fmt.Errorf("unsupported sample rate %d, expected %d", sampleRate, m.sessionConfig.SampleRate)
	}

	now := time.Now()
	session := &Session{
		ID:           streamID,
		Source:       hello.GetSource(),
		SampleRate:   sampleRate,
		StartTime:    now,
		LastActivity: now,
		manager:      m,
	}

	session.Buffer = audio.NewFrameBuffer(
		m.sessionConfig.BufferFrames,
		sampleRate,
		m.sessionConfig.ExtractTolerance,
		m.sessionConfig.MaxPayloadBytes,
	)
	session.Store = segment.NewStore()

	vadConfig := m.sessionConfig.VAD
	vadConfig.SampleRate = sampleRate
	vadConfig.FrameSize = m.sessionConfig.FrameSize
	engine, err := vad.NewEnergyEngine(vadConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD engine: %w", err)
	}
	session.Engine = engine

	session.Pipeline = segment.NewPipeline(
		m.sessionConfig.Pipeline,
		streamID,
		session.Buffer,
		session.Store,
		m.queue,
		m.hub,
		m.metrics,
		m.logger,
	)

	session.Tracker = vad.NewTracker(
		m.sessionConfig.Tracker,
		now,
		m.logger.With("stream_id", streamID),
		func(r vad.FinalizedRange) {
			m.metrics.RecordUtteranceFinalized(r.End.Sub(r.Start).Seconds())
			session.Pipeline.OnFinalizedRange(r)
		},
		func(active bool) {
			if m.hub != nil {
				m.hub.PublishSpeechActive(streamID, active)
			}
		},
	)

	session.Engine.SetEventHandler(func(ev vad.Event) {
		switch ev.Type {
		case vad.EventMisfire:
			m.metrics.RecordVADMisfire()
		case vad.EventSpeechStart:
			// Speech resuming while a finalize is pending merges into the
			// current utterance
			if session.Tracker.State() == vad.StatePendingFinalize {
				m.metrics.RecordUtteranceMerge()
			}
		}
		session.Tracker.HandleEvent(ev)
	})

	m.sessions[streamID] = session
	m.metrics.RecordStreamCreated()
	m.metrics.SetActiveStreams(len(m.sessions))

	m.logger.Info("Session created",
		"stream_id", streamID,
		"source", session.Source,
		"sample_rate", sampleRate)

	return session, nil
}

// GetSession returns the session for a stream ID
func (m *Manager) GetSession(streamID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[streamID]
	return session, ok
}

// RemoveSession finalizes and tears down a session
func (m *Manager) RemoveSession(streamID uint32) {
	m.mu.Lock()
	session, ok := m.sessions[streamID]
	if ok {
		delete(m.sessions, streamID)
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return
	}

	session.close()
	m.metrics.RecordStreamDestroyed(time.Since(session.StartTime).Seconds())
	m.metrics.SetActiveStreams(remaining)

	m.logger.Info("Session removed",
		"stream_id", streamID,
		"duration", time.Since(session.StartTime))
}

// GetAllSessions returns info for all active sessions
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// SessionCount returns the number of active sessions
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cleanupLoop periodically removes idle sessions
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupIdleSessions()
		case <-m.cleanupDone:
			return
		}
	}
}

func (m *Manager) cleanupIdleSessions() {
	m.mu.RLock()
	var idle []uint32
	for id, session := range m.sessions {
		session.mu.Lock()
		last := session.LastActivity
		session.mu.Unlock()
		if time.Since(last) > m.config.SessionTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.logger.Info("Removing idle session", "stream_id", id)
		m.RemoveSession(id)
	}
}

// Stop finalizes all sessions concurrently, then drains the transcription
// queue so in-flight utterances are not lost.
func (m *Manager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		close(m.cleanupDone)

		m.mu.Lock()
		sessions := make([]*Session, 0, len(m.sessions))
		for id, session := range m.sessions {
			sessions = append(sessions, session)
			delete(m.sessions, id)
		}
		m.mu.Unlock()

		g, _ := errgroup.WithContext(ctx)
		for _, session := range sessions {
			session := session
			g.Go(func() error {
				session.close()
				return nil
			})
		}
		g.Wait()

		m.metrics.SetActiveStreams(0)
		err = m.queue.Stop(ctx)
		if m.client != nil {
			m.client.Close()
		}
	})
	return err
}

// IngestFrame processes one audio packet worth of PCM for this session
func (s *Session) IngestFrame(timestamp time.Time, sequence uint32, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := decodePCM16(pcm)
	if len(samples) == 0 {
		return fmt.Errorf("empty audio frame")
	}

	s.LastActivity = time.Now()
	if s.framesIngested > 0 && sequence != s.lastSequence+1 {
		s.gaps++
	}
	s.lastSequence = sequence
	s.framesIngested++

	evictedBefore := s.Buffer.GetStats().FramesEvicted
	s.Buffer.Append(samples, timestamp)
	s.manager.metrics.RecordFrameAppended(s.Buffer.GetStats().FramesEvicted > evictedBefore)

	probability, err := s.Engine.ProcessFrame(samples, timestamp)
	if err != nil {
		return fmt.Errorf("VAD processing failed: %w", err)
	}
	s.manager.metrics.RecordVADFrame(probability >= s.manager.sessionConfig.VAD.Threshold)

	s.Tracker.OnFrameProcessed(probability)
	if s.manager.hub != nil {
		s.manager.hub.PublishConfidence(s.ID, s.Tracker.SmoothedConfidence())
	}

	return nil
}

// Info returns a point-in-time view of the session
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionInfo{
		ID:             s.ID,
		Source:         s.Source,
		SampleRate:     s.SampleRate,
		StartTime:      s.StartTime,
		LastActivity:   s.LastActivity,
		FramesIngested: s.framesIngested,
		SequenceGaps:   s.gaps,
		BufferedMs:     s.Buffer.AvailableDuration().Milliseconds(),
		TrackerState:   s.Tracker.State(),
		Confidence:     s.Tracker.SmoothedConfidence(),
		SegmentCount:   s.Store.Len(),
	}
}

// Segments returns snapshots of all segments produced by this session
func (s *Session) Segments() []segment.Snapshot {
	return s.Store.Snapshots()
}

// reset reinitializes the session for a re-announced stream. Caller holds
// the manager lock.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Tracker.ForceFinalize(time.Now())
	s.Engine.Reset()
	s.Buffer.Reset()
	s.framesIngested = 0
	s.lastSequence = 0
	s.gaps = 0
	s.StartTime = time.Now()
	s.LastActivity = s.StartTime
}

// close finalizes any in-progress utterance and releases session resources
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Tracker.ForceFinalize(time.Now())
	s.Tracker.Stop()
	s.Buffer.Reset()
}

// decodePCM16 converts little-endian 16-bit PCM bytes to normalized float32
// samples
func decodePCM16(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		raw := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(raw) / 32768.0
	}
	return samples
}
