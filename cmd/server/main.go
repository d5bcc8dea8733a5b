package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jdsouz07/lecture-ai/adapters/kafka"
	"github.com/jdsouz07/lecture-ai/adapters/recording"
	"github.com/jdsouz07/lecture-ai/adapters/stt"
	"github.com/jdsouz07/lecture-ai/domain/repositories"
	"github.com/jdsouz07/lecture-ai/internal/api"
	"github.com/jdsouz07/lecture-ai/internal/config"
	"github.com/jdsouz07/lecture-ai/internal/metrics"
	"github.com/jdsouz07/lecture-ai/internal/websocket"
)

// speechBackend is what the server needs from a provider: live links and
// one-shot chunk transcription.
type speechBackend interface {
	repositories.SpeechRecognizer
	repositories.SpeechToText
}

func newSpeechBackend(cfg config.STT, logger *zap.Logger) (speechBackend, error) {
	switch cfg.Provider {
	case config.ProviderDeepgram:
		return stt.NewDeepgram(stt.DeepgramConfig{
			APIKey:     cfg.DeepgramAPIKey,
			StreamURL:  cfg.DeepgramURL,
			HTTPURL:    cfg.DeepgramHTTPURL,
			Model:      cfg.Link.Model,
			Formatting: cfg.Link.Formatting,
		}, logger)
	case config.ProviderGoogle:
		var opts []option.ClientOption
		if cfg.GoogleCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentials))
		}
		return stt.NewGoogleSpeechToText(logger, opts...), nil
	case config.ProviderMock:
		return stt.NewMockSpeechToText(logger), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.LoadServer()

	// Initialize logger
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// Initialize adapters
	backend, err := newSpeechBackend(cfg.STT, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech backend", zap.Error(err))
	}

	recordings, err := recording.NewStore(cfg.RecordingsDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize recording store", zap.Error(err))
	}

	publisher := kafka.New(kafka.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		Enabled: cfg.Kafka.Enabled,
	}, m, logger)

	// Initialize WebSocket hub
	hub := websocket.NewHub(cfg.STT.Link, backend, recordings, publisher, m, logger)
	go hub.Run()

	cleanup := websocket.NewSessionCleanupService(hub, cfg.LinkOpenTimeout, cfg.IdleTimeout, logger)
	cleanup.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	chunks := api.NewChunkHandler(backend, cfg.STT.Link.Language, cfg.ChunkTimeout, m, logger)
	api.InitRoutes(e, hub, chunks, backend.Name(), registry)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay server started",
		zap.String("port", cfg.Port),
		zap.String("provider", backend.Name()),
		zap.String("recordings", recordings.Dir()),
		zap.Bool("kafka", cfg.Kafka.Enabled))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cleanup.Stop()
	if err := hub.Shutdown(ctx); err != nil {
		logger.Warn("Relay sessions did not close in time", zap.Error(err))
	}
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		logger.Error("Failed to close transcript publisher", zap.Error(err))
	}

	logger.Info("Server exited")
}
