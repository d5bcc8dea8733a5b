package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain/repositories"
)

const (
	deepgramWriteWait     = 10 * time.Second
	deepgramKeepAlive     = 5 * time.Second
	deepgramFinishTimeout = 10 * time.Second
)

var (
	deepgramCloseStream  = []byte(`{"type":"CloseStream"}`)
	deepgramKeepAliveMsg = []byte(`{"type":"KeepAlive"}`)
)

// DeepgramConfig configures the Deepgram adapter.
type DeepgramConfig struct {
	APIKey    string
	StreamURL string
	HTTPURL   string
	// Model and Formatting apply to prerecorded requests; streaming links
	// take them from the link configuration.
	Model      string
	Formatting repositories.Formatting
	// HTTPClient is used for prerecorded requests. Defaults to a client with a 60s timeout.
	HTTPClient *http.Client
	// Dialer is used for streaming links. Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// FinishTimeout bounds how long a finished link waits for the backend to close.
	FinishTimeout time.Duration
}

// Deepgram implements SpeechRecognizer over Deepgram's streaming WebSocket
// API and SpeechToText over its prerecorded HTTP API.
type Deepgram struct {
	cfg    DeepgramConfig
	logger *zap.Logger
}

// NewDeepgram creates a Deepgram adapter
func NewDeepgram(cfg DeepgramConfig, logger *zap.Logger) (*Deepgram, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepgram api key is required")
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = "wss://api.deepgram.com/v1/listen"
	}
	if cfg.HTTPURL == "" {
		cfg.HTTPURL = "https://api.deepgram.com/v1/listen"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Formatting == "" {
		cfg.Formatting = repositories.FormattingSmart
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.FinishTimeout == 0 {
		cfg.FinishTimeout = deepgramFinishTimeout
	}
	return &Deepgram{cfg: cfg, logger: logger}, nil
}

// Name implements repositories.SpeechRecognizer
func (d *Deepgram) Name() string { return "deepgram" }

// Connect implements repositories.SpeechRecognizer. The WebSocket is dialed
// in the background.
func (d *Deepgram) Connect(ctx context.Context, config repositories.LinkConfig, listener repositories.LinkListener) (repositories.SpeechRecognitionLink, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid link config: %w", err)
	}
	endpoint, err := streamURL(d.cfg.StreamURL, config)
	if err != nil {
		return nil, err
	}

	linkCtx, cancel := context.WithCancel(ctx)
	link := &deepgramLink{
		ctx:           linkCtx,
		cancel:        cancel,
		listener:      listener,
		logger:        d.logger,
		finishTimeout: d.cfg.FinishTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.cfg.APIKey)

	go link.run(d.cfg.Dialer, endpoint, header)

	return link, nil
}

func streamURL(base string, config repositories.LinkConfig) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram url: %w", err)
	}
	smart := strconv.FormatBool(config.Formatting == repositories.FormattingSmart)

	q := u.Query()
	q.Set("model", config.Model)
	q.Set("language", config.Language)
	q.Set("encoding", strings.ToLower(config.Encoding))
	q.Set("sample_rate", strconv.Itoa(config.SampleRate))
	q.Set("channels", strconv.Itoa(config.Channels))
	q.Set("interim_results", strconv.FormatBool(config.InterimResults))
	q.Set("smart_format", smart)
	q.Set("punctuate", smart)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

type deepgramLink struct {
	ctx      context.Context
	cancel   context.CancelFunc
	listener repositories.LinkListener
	logger   *zap.Logger

	finishTimeout time.Duration
	ready         atomic.Bool

	mu       sync.Mutex
	conn     *websocket.Conn
	lastSend time.Time
	finished bool
	closed   bool
}

func (l *deepgramLink) run(dialer *websocket.Dialer, endpoint string, header http.Header) {
	conn, resp, err := dialer.DialContext(l.ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if l.ended() {
			return
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		l.listener.OnError(fmt.Errorf("dial deepgram: %w", err))
		return
	}

	l.mu.Lock()
	if l.finished || l.closed {
		l.mu.Unlock()
		conn.Close()
		return
	}
	l.conn = conn
	l.lastSend = time.Now()
	l.ready.Store(true)
	l.mu.Unlock()

	l.listener.OnOpen()

	go l.keepAlive()
	l.readLoop(conn)
}

func (l *deepgramLink) ended() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finished || l.closed
}

// readLoop delivers every callback after OnOpen, so listeners see events in
// backend order from one goroutine.
func (l *deepgramLink) readLoop(conn *websocket.Conn) {
	defer func() {
		l.ready.Store(false)
		l.cancel()
		conn.Close()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if l.ended() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				l.listener.OnClose()
			} else {
				l.listener.OnError(fmt.Errorf("read deepgram: %w", err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		transcript, ok, err := decodeDeepgramMessage(message)
		if err != nil {
			l.logger.Debug("Dropping malformed deepgram message", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		l.listener.OnTranscript(transcript)
	}
}

func (l *deepgramLink) keepAlive() {
	ticker := time.NewTicker(deepgramKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			if l.finished || l.closed || l.conn == nil {
				l.mu.Unlock()
				return
			}
			if time.Since(l.lastSend) >= deepgramKeepAlive {
				l.conn.SetWriteDeadline(time.Now().Add(deepgramWriteWait))
				if err := l.conn.WriteMessage(websocket.TextMessage, deepgramKeepAliveMsg); err != nil {
					l.logger.Warn("Failed to send deepgram keepalive", zap.Error(err))
				}
				l.lastSend = time.Now()
			}
			l.mu.Unlock()
		}
	}
}

// Ready implements repositories.SpeechRecognitionLink
func (l *deepgramLink) Ready() bool {
	return l.ready.Load()
}

// Send implements repositories.SpeechRecognitionLink
func (l *deepgramLink) Send(frame []byte) error {
	if !l.ready.Load() {
		return repositories.ErrLinkNotReady
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil || l.finished || l.closed {
		return repositories.ErrLinkNotReady
	}
	l.conn.SetWriteDeadline(time.Now().Add(deepgramWriteWait))
	if err := l.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("send audio to deepgram: %w", err)
	}
	l.lastSend = time.Now()
	return nil
}

// Finish implements repositories.SpeechRecognitionLink. Deepgram flushes
// pending results after CloseStream and then closes the socket; the link is
// force-closed if that does not happen within the finish timeout.
func (l *deepgramLink) Finish() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finished || l.closed {
		return nil
	}
	l.finished = true
	l.ready.Store(false)

	if l.conn == nil {
		// Still dialing.
		l.cancel()
		return nil
	}

	time.AfterFunc(l.finishTimeout, func() { l.Close() })

	l.conn.SetWriteDeadline(time.Now().Add(deepgramWriteWait))
	if err := l.conn.WriteMessage(websocket.TextMessage, deepgramCloseStream); err != nil {
		return fmt.Errorf("send CloseStream: %w", err)
	}
	return nil
}

// Close implements repositories.SpeechRecognitionLink
func (l *deepgramLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.ready.Store(false)
	conn := l.conn
	l.mu.Unlock()

	l.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

type deepgramMessage struct {
	Type        string          `json:"type"`
	Channel     json.RawMessage `json:"channel"`
	IsFinal     bool            `json:"is_final"`
	SpeechFinal bool            `json:"speech_final"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives"`
}

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

var errMalformedResult = errors.New("malformed deepgram result")

// decodeDeepgramMessage validates a streaming message. ok is false for
// message types that carry no transcript (Metadata, SpeechStarted,
// UtteranceEnd).
func decodeDeepgramMessage(data []byte) (repositories.LinkTranscript, bool, error) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return repositories.LinkTranscript{}, false, fmt.Errorf("%w: %v", errMalformedResult, err)
	}
	if msg.Type != "Results" {
		return repositories.LinkTranscript{}, false, nil
	}

	channel, err := decodeDeepgramChannel(msg.Channel)
	if err != nil {
		return repositories.LinkTranscript{}, false, err
	}
	if len(channel.Alternatives) == 0 {
		return repositories.LinkTranscript{}, false, fmt.Errorf("%w: no alternatives", errMalformedResult)
	}

	transcript := repositories.LinkTranscript{
		Confidence: channel.Alternatives[0].Confidence,
		IsFinal:    msg.IsFinal || msg.SpeechFinal,
	}
	for _, alt := range channel.Alternatives {
		transcript.Alternatives = append(transcript.Alternatives, strings.TrimSpace(alt.Transcript))
	}
	return transcript, true, nil
}

// Deepgram sends channel as an object; some multichannel payloads use an array.
func decodeDeepgramChannel(raw json.RawMessage) (deepgramChannel, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return deepgramChannel{}, fmt.Errorf("%w: missing channel", errMalformedResult)
	}

	if raw[0] == '[' {
		var channels []deepgramChannel
		if err := json.Unmarshal(raw, &channels); err != nil {
			return deepgramChannel{}, fmt.Errorf("%w: %v", errMalformedResult, err)
		}
		if len(channels) == 0 {
			return deepgramChannel{}, fmt.Errorf("%w: empty channel list", errMalformedResult)
		}
		return channels[0], nil
	}

	var channel deepgramChannel
	if err := json.Unmarshal(raw, &channel); err != nil {
		return deepgramChannel{}, fmt.Errorf("%w: %v", errMalformedResult, err)
	}
	return channel, nil
}

type deepgramPrerecordedResponse struct {
	Results struct {
		Channels []deepgramChannel `json:"channels"`
	} `json:"results"`
}

// TranscribeAudio implements repositories.SpeechToText using the prerecorded API
func (d *Deepgram) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	u, err := url.Parse(d.cfg.HTTPURL)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram url: %w", err)
	}
	channels := config.Channels
	if channels == 0 {
		channels = 1
	}
	smart := strconv.FormatBool(d.cfg.Formatting == repositories.FormattingSmart)

	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("encoding", strings.ToLower(config.Encoding))
	q.Set("sample_rate", strconv.Itoa(config.SampleRate))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("smart_format", smart)
	q.Set("punctuate", smart)
	if config.Language != "" {
		q.Set("language", config.Language)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(audioData))
	if err != nil {
		return "", fmt.Errorf("build deepgram request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.cfg.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("deepgram returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result deepgramPrerecordedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode deepgram response: %w", err)
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}

	text := strings.TrimSpace(result.Results.Channels[0].Alternatives[0].Transcript)
	d.logger.Debug("Deepgram prerecorded transcription",
		zap.Int("audioSize", len(audioData)),
		zap.Int("textLength", len(text)))
	return text, nil
}
