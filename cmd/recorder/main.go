package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/internal/capture"
	"github.com/jdsouz07/lecture-ai/internal/config"
	"github.com/jdsouz07/lecture-ai/internal/recorder"
)

func newDevice(kind string, logger *zap.Logger) recorder.CaptureDevice {
	if kind == config.CaptureTone {
		return capture.NewTone(440, logger)
	}
	return capture.NewMicrophone(logger)
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.LoadRecorder()

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	rec := recorder.New(
		recorder.Config{
			Format:             cfg.Format(),
			SliceInterval:      cfg.SliceInterval,
			TranscribeInterval: cfg.TranscribeInterval,
			Overlap:            cfg.Overlap,
			FlushGrace:         cfg.FlushGrace,
			ResetOnStart:       cfg.ResetOnStart,
		},
		newDevice(cfg.CaptureDevice, logger),
		&recorder.WebsocketDialer{URL: cfg.RelayURL, Logger: logger},
		recorder.NewHTTPTranscriber(cfg.TranscribeURL, cfg.TranscribeTimeout, logger),
		logger,
		recorder.WithTranscriptObserver(func(seg recorder.Segment, _ string) {
			fmt.Printf("[%s #%d] %s\n", seg.Source, seg.Seq, seg.Text)
		}),
	)

	if err := rec.Start(context.Background()); err != nil {
		switch {
		case errors.Is(err, recorder.ErrDevice):
			logger.Fatal("Could not access the capture device", zap.Error(err))
		case errors.Is(err, recorder.ErrLinkSetup):
			logger.Fatal("Could not connect to the relay", zap.String("url", cfg.RelayURL), zap.Error(err))
		default:
			logger.Fatal("Failed to start recording", zap.Error(err))
		}
	}
	logger.Info("Recording, press Ctrl+C to stop",
		zap.String("device", cfg.CaptureDevice),
		zap.Duration("transcribeInterval", cfg.TranscribeInterval),
		zap.Duration("overlap", cfg.Overlap))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.FlushGrace+cfg.TranscribeTimeout)
		defer cancel()
		if err := rec.Stop(ctx); err != nil && !errors.Is(err, recorder.ErrNotRunning) {
			logger.Error("Recorder did not stop cleanly", zap.Error(err))
		}
	case <-rec.Done():
	}

	if err := rec.Err(); err != nil {
		logger.Error("Recording ended with an error", zap.Error(err))
	}

	fmt.Println()
	fmt.Println(rec.Transcript().Text())
}
