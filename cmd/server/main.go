package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/mic-audio-service/internal/config"
	"github.com/skypro1111/mic-audio-service/internal/metrics"
	"github.com/skypro1111/mic-audio-service/internal/notify"
	"github.com/skypro1111/mic-audio-service/internal/segment"
	"github.com/skypro1111/mic-audio-service/internal/server"
	"github.com/skypro1111/mic-audio-service/internal/stream"
	"github.com/skypro1111/mic-audio-service/internal/transcription"
	"github.com/skypro1111/mic-audio-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "mic-audio-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_concurrent_streams", cfg.Server.MaxConcurrentStreams),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_size", cfg.Audio.FrameSize),
		slog.Float64("vad_threshold", float64(cfg.VAD.Threshold)),
		slog.Duration("speech_end_delay", cfg.VAD.GetSpeechEndDelay()),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Int("queue_workers", cfg.Queue.Workers),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	client, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		Language:      cfg.Transcription.Language,
		Model:         cfg.Transcription.Model,
	}, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	hub := notify.NewHub(cfg.Notify.GetFlushInterval())

	queue := segment.NewQueue(segment.QueueConfig{
		Workers:        cfg.Queue.Workers,
		YieldDelay:     cfg.Queue.GetYieldDelay(),
		RequestTimeout: cfg.Transcription.GetTimeoutDuration() * time.Duration(cfg.Transcription.MaxRetries+1),
		MaxPending:     cfg.Queue.MaxPending,
	}, client, hub, appMetrics, logger)
	logger.Info("Transcription queue initialized",
		slog.Int("workers", cfg.Queue.Workers),
		slog.Int("max_pending", cfg.Queue.MaxPending),
	)

	sessionConfig := stream.SessionConfig{
		SampleRate:       cfg.Audio.SampleRate,
		FrameSize:        cfg.Audio.FrameSize,
		BufferFrames:     cfg.Audio.BufferFrames,
		ExtractTolerance: cfg.Audio.GetExtractTolerance(),
		MaxPayloadBytes:  cfg.Audio.MaxPayloadBytes,
		VAD: vad.EnergyEngineConfig{
			Threshold:     cfg.VAD.Threshold,
			StartFrames:   cfg.VAD.StartFrames,
			ConfirmFrames: cfg.VAD.ConfirmFrames,
			EndFrames:     cfg.VAD.EndFrames,
		},
		Tracker: vad.TrackerConfig{
			PreSpeechPadding:  cfg.VAD.GetPreSpeechPadding(),
			PostSpeechPadding: cfg.VAD.GetPostSpeechPadding(),
			SpeechEndDelay:    cfg.VAD.GetSpeechEndDelay(),
			ConfidenceWeight:  cfg.VAD.ConfidenceSmoothing,
		},
		Pipeline: segment.PipelineConfig{
			MinUtteranceBytes: cfg.Pipeline.MinUtteranceBytes,
		},
	}

	streamMgr := stream.NewManager(stream.ManagerConfig{
		MaxConcurrentStreams: cfg.Server.MaxConcurrentStreams,
		SessionTimeout:       cfg.Server.GetStreamTimeoutDuration(),
	}, sessionConfig, hub, queue, client, appMetrics, logger)
	logger.Info("Stream manager initialized",
		slog.Duration("session_timeout", cfg.Server.GetStreamTimeoutDuration()),
	)

	udpServer := server.NewUDPServer(&cfg.Server, logger, streamMgr, appMetrics)
	logger.Info("UDP server initialized")

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, streamMgr, udpServer,
			hub, queue, client, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP first so no new observers attach, then UDP so no new audio
	// arrives, then the manager so in-flight utterances finalize and drain
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := streamMgr.Stop(drainCtx); err != nil {
		logger.Warn("Stream manager shutdown incomplete", slog.String("error", err.Error()))
	}

	hub.Stop()

	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
