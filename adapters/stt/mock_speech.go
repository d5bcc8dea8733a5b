package stt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain/repositories"
)

var mockPhrases = []string{
	"Good morning everyone.",
	"Today we continue with the second chapter.",
	"Please take note of this definition.",
	"We will come back to this example later.",
}

// MockSpeechToText is a placeholder implementation for speech recognition.
// Streaming links open after OpenDelay and emit a canned phrase for every
// BytesPerTranscript bytes of audio.
type MockSpeechToText struct {
	logger             *zap.Logger
	OpenDelay          time.Duration
	BytesPerTranscript int
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{
		logger:             logger,
		OpenDelay:          100 * time.Millisecond,
		BytesPerTranscript: 32000,
	}
}

// Name implements repositories.SpeechRecognizer
func (s *MockSpeechToText) Name() string { return "mock" }

// Connect creates a new mock streaming link
func (s *MockSpeechToText) Connect(ctx context.Context, config repositories.LinkConfig, listener repositories.LinkListener) (repositories.SpeechRecognitionLink, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid link config: %w", err)
	}

	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	threshold := s.BytesPerTranscript
	if threshold <= 0 {
		threshold = 32000
	}
	link := &mockLink{
		ctx:       ctx,
		listener:  listener,
		threshold: threshold,
		events:    make(chan repositories.LinkTranscript, 64),
	}
	go link.run(s.OpenDelay)

	return link, nil
}

type mockLink struct {
	ctx       context.Context
	listener  repositories.LinkListener
	threshold int
	events    chan repositories.LinkTranscript
	ready     atomic.Bool

	mu        sync.Mutex
	received  int
	emitted   int
	ended     bool
	closeOnce sync.Once
}

func (m *mockLink) run(openDelay time.Duration) {
	select {
	case <-time.After(openDelay):
	case <-m.ctx.Done():
		return
	}

	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	m.ready.Store(true)
	m.mu.Unlock()

	m.listener.OnOpen()
	for transcript := range m.events {
		m.listener.OnTranscript(transcript)
	}
	m.listener.OnClose()
}

// Ready implements repositories.SpeechRecognitionLink
func (m *mockLink) Ready() bool {
	return m.ready.Load()
}

// Send implements mock streaming audio processing
func (m *mockLink) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready.Load() || m.ended {
		return repositories.ErrLinkNotReady
	}

	m.received += len(frame)
	for m.received >= (m.emitted+1)*m.threshold {
		phrase := mockPhrases[m.emitted%len(mockPhrases)]
		m.emitted++
		select {
		case m.events <- repositories.LinkTranscript{Alternatives: []string{phrase}, IsFinal: true, Confidence: 0.9}:
		default:
		}
	}
	return nil
}

// Finish implements repositories.SpeechRecognitionLink
func (m *mockLink) Finish() error {
	m.end()
	return nil
}

// Close implements repositories.SpeechRecognitionLink
func (m *mockLink) Close() error {
	m.end()
	return nil
}

func (m *mockLink) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = true
	m.ready.Store(false)
	m.closeOnce.Do(func() { close(m.events) })
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	s.logger.Info("Processing speech-to-text",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding))

	if len(audioData) == 0 {
		return "", nil
	}

	// Mock transcription based on audio size
	switch {
	case len(audioData) > 160000:
		return "Today we continue with the second chapter. Please take note of this definition.", nil
	case len(audioData) > 32000:
		return "Please take note of this definition.", nil
	default:
		return "Good morning everyone.", nil
	}
}
