package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

// SpeechToText abstracts one-shot speech recognition services
type SpeechToText interface {
	// TranscribeAudio converts PCM audio data to text
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (string, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
	Channels   int    `json:"channels"`
}

// Formatting selects how the backend renders transcript text.
type Formatting string

const (
	FormattingSmart Formatting = "smart"
	FormattingRaw   Formatting = "raw"
)

// LinkConfig is the fixed configuration every recognition link is opened with.
type LinkConfig struct {
	Model          string     `json:"model"`
	Formatting     Formatting `json:"formatting"`
	InterimResults bool       `json:"interim_results"`
	Language       string     `json:"language"`
	Encoding       string     `json:"encoding"`
	SampleRate     int        `json:"sample_rate"`
	Channels       int        `json:"channels"`
}

// Format returns the capture format the link expects.
func (c LinkConfig) Format() entities.AudioFormat {
	return entities.AudioFormat{Encoding: c.Encoding, SampleRate: c.SampleRate, Channels: c.Channels}
}

// Validate validates the link configuration
func (c LinkConfig) Validate() error {
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.Formatting != FormattingSmart && c.Formatting != FormattingRaw {
		return fmt.Errorf("formatting must be one of: smart, raw")
	}
	if c.Language == "" {
		return errors.New("language is required")
	}
	return c.Format().Validate()
}

// ErrFormatMismatch is returned when a client declares a capture format the
// link was not configured for.
var ErrFormatMismatch = errors.New("capture format does not match link configuration")

// Accepts checks a client's declared capture format against the link.
func (c LinkConfig) Accepts(f entities.AudioFormat) error {
	if !strings.EqualFold(f.Encoding, c.Encoding) {
		return fmt.Errorf("%w: encoding %q, expected %q", ErrFormatMismatch, f.Encoding, c.Encoding)
	}
	if f.SampleRate != c.SampleRate {
		return fmt.Errorf("%w: sample_rate %d, expected %d", ErrFormatMismatch, f.SampleRate, c.SampleRate)
	}
	if f.Channels != c.Channels {
		return fmt.Errorf("%w: channels %d, expected %d", ErrFormatMismatch, f.Channels, c.Channels)
	}
	return nil
}

// LinkTranscript is one recognition result. Alternatives are ordered best first.
type LinkTranscript struct {
	Alternatives []string
	Confidence   float64
	IsFinal      bool
}

// Best returns the first alternative, or "" if there is none.
func (t LinkTranscript) Best() string {
	if len(t.Alternatives) == 0 {
		return ""
	}
	return t.Alternatives[0]
}

// LinkListener receives link lifecycle and data events. Callbacks for one
// link are delivered from a single goroutine in backend order.
type LinkListener interface {
	OnOpen()
	OnTranscript(t LinkTranscript)
	OnError(err error)
	OnClose()
}

// ErrLinkNotReady is returned by Send before the link has opened or after it
// has been finished.
var ErrLinkNotReady = errors.New("recognition link not ready")

// SpeechRecognitionLink is a persistent streaming connection to a
// recognition backend.
type SpeechRecognitionLink interface {
	// Ready reports whether the link accepts audio.
	Ready() bool
	// Send forwards one binary audio frame.
	Send(frame []byte) error
	// Finish asks the backend to flush and end the stream gracefully.
	Finish() error
	// Close tears the link down immediately.
	Close() error
}

// SpeechRecognizer opens recognition links. Connect returns as soon as the
// link object exists; the connection completes asynchronously and is
// reported through OnOpen or OnError.
type SpeechRecognizer interface {
	Name() string
	Connect(ctx context.Context, config LinkConfig, listener LinkListener) (SpeechRecognitionLink, error)
}
