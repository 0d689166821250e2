package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/mic-audio-service/internal/config"
	"github.com/skypro1111/mic-audio-service/internal/metrics"
	"github.com/skypro1111/mic-audio-service/internal/protocol"
	"github.com/skypro1111/mic-audio-service/internal/stream"
)

// UDPServer handles incoming audio packets from microphone capture clients
type UDPServer struct {
	conn      *net.UDPConn
	config    *config.ServerConfig
	logger    *slog.Logger
	streamMgr *stream.Manager
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// One channel per worker. Packets are routed by stream ID so frames of a
	// single stream are always processed in arrival order.
	packetChans []chan *incomingPacket

	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	packetsDropped   uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	received   time.Time
}

const numPacketWorkers = 4

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, streamMgr *stream.Manager, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	chans := make([]chan *incomingPacket, numPacketWorkers)
	for i := range chans {
		chans[i] = make(chan *incomingPacket, 256)
	}

	return &UDPServer{
		config:      cfg,
		logger:      logger,
		streamMgr:   streamMgr,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
		packetChans: chans,
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", addr.String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	for i := 0; i < numPacketWorkers; i++ {
		s.wg.Add(1)
		go s.packetProcessor(i)
	}

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	for _, ch := range s.packetChans {
		close(ch)
	}

	s.wg.Wait()

	s.mu.RLock()
	packetsReceived := s.packetsReceived
	packetsProcessed := s.packetsProcessed
	parseErrors := s.parseErrors
	s.mu.RUnlock()

	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", packetsReceived),
		slog.Uint64("packets_processed", packetsProcessed),
		slog.Uint64("parse_errors", parseErrors),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Read deadline lets the loop observe context cancellation
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		s.metrics.RecordPacketReceived()

		// Route by stream ID so one stream's frames stay ordered; the
		// header alone is enough for routing
		header, err := protocol.ParseHeader(buffer[:n])
		if err != nil {
			s.recordParseError(remoteAddr, n, err, -1)
			continue
		}

		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			received:   time.Now(),
		}

		workerID := int(header.StreamID % numPacketWorkers)
		select {
		case s.packetChans[workerID] <- packet:
			s.reportQueueDepth()
		default:
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
				slog.Int("worker_id", workerID),
			)
		}
	}
}

// packetProcessor processes packets routed to one worker channel
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range s.packetChans[workerID] {
		s.handlePacket(packet, workerID)
		s.reportQueueDepth()
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	parsedPacket, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.recordParseError(packet.remoteAddr, len(packet.data), err, workerID)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	s.metrics.RecordPacketProcessed()

	switch parsedPacket.Header.PacketType {
	case protocol.PacketTypeHello:
		s.processHelloPacket(parsedPacket.Header, parsedPacket.Hello, workerID)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(parsedPacket.Header, parsedPacket.Audio, workerID)
	}
}

// processHelloPacket handles stream announcements
func (s *UDPServer) processHelloPacket(header *protocol.Header, payload *protocol.HelloPayload, workerID int) {
	s.logger.Debug("Processing hello packet",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("source", payload.GetSource()),
		slog.Uint64("sample_rate", uint64(payload.SampleRate)),
		slog.Int("worker_id", workerID),
	)

	session, err := s.streamMgr.CreateSession(header.StreamID, payload)
	if err != nil {
		s.logger.Error("Failed to create stream session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.logger.Info("Hello packet processed",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("source", session.Source),
		slog.Int("worker_id", workerID),
	)
}

// processAudioPacket routes audio frames to the stream session
func (s *UDPServer) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload, workerID int) {
	session, exists := s.streamMgr.GetSession(header.StreamID)
	if !exists {
		s.logger.Warn("Received audio packet for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Int("audio_size", len(payload.PCM)),
			slog.Int("worker_id", workerID),
		)
		return
	}

	if err := session.IngestFrame(payload.Timestamp(), payload.Sequence, payload.PCM); err != nil {
		s.logger.Error("Failed to ingest audio frame",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
	}
}

func (s *UDPServer) recordParseError(remoteAddr *net.UDPAddr, size int, err error, workerID int) {
	s.mu.Lock()
	s.parseErrors++
	s.mu.Unlock()
	s.metrics.RecordParseError()

	s.logger.Error("Failed to parse packet",
		slog.String("remote_addr", remoteAddr.String()),
		slog.Int("packet_size", size),
		slog.String("error", err.Error()),
		slog.Int("worker_id", workerID),
	)
}

// queuedPackets sums the depth of all worker channels
func (s *UDPServer) queuedPackets() int {
	queued := 0
	for _, ch := range s.packetChans {
		queued += len(ch)
	}
	return queued
}

// reportQueueDepth publishes the current packet queue depth gauge
func (s *UDPServer) reportQueueDepth() {
	s.metrics.SetPacketQueueSize(s.queuedPackets())
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queued := s.queuedPackets()

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		PacketsDropped:   s.packetsDropped,
		ActiveStreams:    uint64(s.streamMgr.SessionCount()),
		QueueSize:        uint64(queued),
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ActiveStreams    uint64 `json:"active_streams"`
	QueueSize        uint64 `json:"queue_size"`
}
