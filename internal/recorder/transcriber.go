package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain"
	"github.com/jdsouz07/lecture-ai/domain/entities"
	"github.com/jdsouz07/lecture-ai/internal/audio"
)

// ChunkTranscriber turns one chunk into best-effort text, possibly empty.
type ChunkTranscriber interface {
	Transcribe(ctx context.Context, chunk *entities.AudioChunk) (string, error)
}

// HTTPTranscriber posts chunks to the polling endpoint as multipart WAV.
type HTTPTranscriber struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewHTTPTranscriber creates a transcriber for POST url. timeout bounds each
// request; zero means no per-request limit.
func NewHTTPTranscriber(url string, timeout time.Duration, logger *zap.Logger) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:     url,
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// Transcribe implements ChunkTranscriber. Every failure is a *ChunkError.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, chunk *entities.AudioChunk) (string, error) {
	wavData, err := audio.EncodeChunk(chunk)
	if err != nil {
		return "", &ChunkError{Seq: chunk.Seq, Err: fmt.Errorf("encode chunk: %w", err)}
	}

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="chunk-%d.wav"`, chunk.CreatedAt.UnixMilli()))
	header.Set("Content-Type", "audio/wav")
	part, err := form.CreatePart(header)
	if err != nil {
		return "", &ChunkError{Seq: chunk.Seq, Err: err}
	}
	if _, err := part.Write(wavData); err != nil {
		return "", &ChunkError{Seq: chunk.Seq, Err: err}
	}
	if err := form.Close(); err != nil {
		return "", &ChunkError{Seq: chunk.Seq, Err: err}
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, body)
	if err != nil {
		return "", &ChunkError{Seq: chunk.Seq, Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return "", &ChunkError{Seq: chunk.Seq, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &ChunkError{
			Seq:        chunk.Seq,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(msg))),
		}
	}

	var result domain.ChunkTranscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ChunkError{Seq: chunk.Seq, Err: fmt.Errorf("decode response: %w", err)}
	}

	t.logger.Debug("Chunk transcribed",
		zap.Uint64("seq", chunk.Seq),
		zap.Duration("audio", chunk.Duration()),
		zap.Duration("latency", time.Since(start)),
		zap.Int("length", len(result.Text)))
	return result.Text, nil
}
