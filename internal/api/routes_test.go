package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jdsouz07/lecture-ai/adapters/stt"
	"github.com/jdsouz07/lecture-ai/domain"
	"github.com/jdsouz07/lecture-ai/domain/entities"
	"github.com/jdsouz07/lecture-ai/domain/repositories"
	"github.com/jdsouz07/lecture-ai/internal/audio"
	"github.com/jdsouz07/lecture-ai/internal/metrics"
	"github.com/jdsouz07/lecture-ai/internal/websocket"
)

type stubSTT struct {
	text   string
	err    error
	got    []byte
	config repositories.AudioConfig
}

func (s *stubSTT) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	s.got = audioData
	s.config = config
	return s.text, s.err
}

func newTestServer(t *testing.T, sttRepo repositories.SpeechToText) (*echo.Echo, *metrics.Metrics) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	link := repositories.LinkConfig{
		Model:      "nova-2",
		Formatting: repositories.FormattingSmart,
		Language:   "en-US",
		Encoding:   "linear16",
		SampleRate: 16000,
		Channels:   1,
	}
	hub := websocket.NewHub(link, stt.NewMockSpeechToText(logger), nil, nil, m, logger)
	go hub.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})

	e := echo.New()
	InitRoutes(e, hub, NewChunkHandler(sttRepo, "en-US", 5*time.Second, m, logger), "mock", reg)
	return e, m
}

func multipartBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, "chunk.wav")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func postChunk(e *echo.Echo, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe-chunk", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, _ := newTestServer(t, &stubSTT{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "mock", resp.Provider)
	assert.Equal(t, 0, resp.ActiveSessions)
}

func TestMetricsEndpoint(t *testing.T) {
	e, m := newTestServer(t, &stubSTT{})
	m.RecordSessionStart()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lecture_relay_sessions_total 1")
}

func TestTranscribeChunk(t *testing.T) {
	sttRepo := &stubSTT{text: "  the derivative of x squared  "}
	e, m := newTestServer(t, sttRepo)

	format := entities.AudioFormat{Encoding: entities.EncodingLinear16, SampleRate: 16000, Channels: 1}
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	wavData, err := audio.EncodePCM(pcm, format)
	require.NoError(t, err)

	body, contentType := multipartBody(t, "file", wavData)
	rec := postChunk(e, body, contentType)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.ChunkTranscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "the derivative of x squared", resp.Text)

	assert.Equal(t, pcm, sttRepo.got)
	assert.Equal(t, 16000, sttRepo.config.SampleRate)
	assert.Equal(t, 1, sttRepo.config.Channels)
	assert.Equal(t, "en-US", sttRepo.config.Language)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunkRequests.WithLabelValues("transcribed")))
}

func TestTranscribeChunk_EmptyTextOmitted(t *testing.T) {
	e, _ := newTestServer(t, &stubSTT{text: ""})

	format := entities.AudioFormat{Encoding: entities.EncodingLinear16, SampleRate: 16000, Channels: 1}
	wavData, err := audio.EncodePCM(make([]byte, 320), format)
	require.NoError(t, err)

	body, contentType := multipartBody(t, "file", wavData)
	rec := postChunk(e, body, contentType)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestTranscribeChunk_Errors(t *testing.T) {
	format := entities.AudioFormat{Encoding: entities.EncodingLinear16, SampleRate: 16000, Channels: 1}
	wavData, err := audio.EncodePCM(make([]byte, 320), format)
	require.NoError(t, err)

	tests := []struct {
		name       string
		stt        *stubSTT
		field      string
		data       []byte
		wantStatus int
		wantError  string
	}{
		{"missing file field", &stubSTT{}, "audio", wavData, http.StatusBadRequest, "missing_file"},
		{"not a wav file", &stubSTT{}, "file", []byte("definitely not audio"), http.StatusBadRequest, "invalid_audio"},
		{"backend failure", &stubSTT{err: errors.New("quota exceeded")}, "file", wavData, http.StatusBadGateway, "transcription_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestServer(t, tt.stt)
			body, contentType := multipartBody(t, tt.field, tt.data)
			rec := postChunk(e, body, contentType)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestWebSocketRouteRejectsMissingFormat(t *testing.T) {
	e, _ := newTestServer(t, &stubSTT{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "invalid_format"))
}
