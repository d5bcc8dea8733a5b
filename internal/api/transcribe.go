package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain"
	"github.com/jdsouz07/lecture-ai/domain/repositories"
	"github.com/jdsouz07/lecture-ai/internal/audio"
	"github.com/jdsouz07/lecture-ai/internal/metrics"
)

// maxChunkSize bounds one uploaded chunk.
const maxChunkSize = 16 << 20

// ChunkHandler transcribes WAV chunks uploaded by polling clients.
type ChunkHandler struct {
	stt      repositories.SpeechToText
	language string
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewChunkHandler creates a handler for POST /api/transcribe-chunk.
func NewChunkHandler(stt repositories.SpeechToText, language string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *ChunkHandler {
	return &ChunkHandler{
		stt:      stt,
		language: language,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
	}
}

// Transcribe reads the multipart "file" part, decodes the WAV container and
// returns {"text": ...}.
func (h *ChunkHandler) Transcribe(c echo.Context) error {
	start := time.Now()

	fh, err := c.FormFile("file")
	if err != nil {
		h.metrics.RecordChunkRequest("bad_request", time.Since(start).Seconds())
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_file",
			Message: "multipart field 'file' is required",
		})
	}
	if fh.Size > maxChunkSize {
		h.metrics.RecordChunkRequest("bad_request", time.Since(start).Seconds())
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "chunk_too_large",
			Message: "audio chunk exceeds the upload limit",
		})
	}

	data, err := readUpload(fh)
	if err != nil {
		h.logger.Error("Failed to read uploaded chunk", zap.Error(err))
		h.metrics.RecordChunkRequest("bad_request", time.Since(start).Seconds())
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "could not read uploaded file",
		})
	}

	pcm, format, err := audio.DecodePCM(data)
	if err != nil {
		h.logger.Warn("Rejected chunk", zap.Int("size", len(data)), zap.Error(err))
		h.metrics.RecordChunkRequest("bad_request", time.Since(start).Seconds())
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_audio",
			Message: err.Error(),
		})
	}

	ctx := c.Request().Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	text, err := h.stt.TranscribeAudio(ctx, pcm, repositories.AudioConfig{
		SampleRate: format.SampleRate,
		Encoding:   format.Encoding,
		Language:   h.language,
		Channels:   format.Channels,
	})
	if err != nil {
		h.logger.Error("Chunk transcription failed",
			zap.Int("pcmBytes", len(pcm)),
			zap.Error(err))
		h.metrics.RecordChunkRequest("failed", time.Since(start).Seconds())
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "transcription_failed",
			Message: "speech backend did not return a transcript",
		})
	}

	text = strings.TrimSpace(text)
	outcome := "transcribed"
	if text == "" {
		outcome = "empty"
	}
	h.metrics.RecordChunkRequest(outcome, time.Since(start).Seconds())
	h.logger.Debug("Chunk transcribed",
		zap.Int("pcmBytes", len(pcm)),
		zap.Int("length", len(text)))

	return c.JSON(http.StatusOK, domain.ChunkTranscriptionResponse{Text: text})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxChunkSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxChunkSize {
		return nil, errors.New("chunk too large")
	}
	return data, nil
}
