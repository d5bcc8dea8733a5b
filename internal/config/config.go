// Package config loads server and recorder settings from the environment.
// A .env file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jdsouz07/lecture-ai/domain/entities"
	"github.com/jdsouz07/lecture-ai/domain/repositories"
)

const (
	ProviderDeepgram = "deepgram"
	ProviderGoogle   = "google"
	ProviderMock     = "mock"

	CaptureMalgo = "malgo"
	CaptureTone  = "tone"
)

// Server holds relay server configuration.
type Server struct {
	Port            string
	RecordingsDir   string
	LinkOpenTimeout time.Duration
	IdleTimeout     time.Duration
	ChunkTimeout    time.Duration
	Log             Log
	STT             STT
	Kafka           Kafka
}

// STT selects and configures the recognition backend.
type STT struct {
	Provider          string
	DeepgramAPIKey    string
	DeepgramURL       string
	DeepgramHTTPURL   string
	GoogleCredentials string
	Link              repositories.LinkConfig
}

// Kafka configures the optional transcript sink.
type Kafka struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// Log configures the zap logger.
type Log struct {
	Level string
	Env   string
}

// Recorder holds recorder client configuration.
type Recorder struct {
	RelayURL           string
	TranscribeURL      string
	SliceInterval      time.Duration
	TranscribeInterval time.Duration
	Overlap            time.Duration
	TranscribeTimeout  time.Duration
	FlushGrace         time.Duration
	CaptureDevice      string
	SampleRate         int
	Channels           int
	ResetOnStart       bool
	Log                Log
}

// LoadDotEnv loads .env if it exists. A missing file is not an error.
func LoadDotEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadServer reads server settings from the environment
func LoadServer() *Server {
	return &Server{
		Port:            envOrDefault("PORT", "8080"),
		RecordingsDir:   envOrDefault("RECORDINGS_DIR", "recordings"),
		LinkOpenTimeout: envOrDefaultDuration("LINK_OPEN_TIMEOUT", 15*time.Second),
		IdleTimeout:     envOrDefaultDuration("IDLE_TIMEOUT", 2*time.Minute),
		ChunkTimeout:    envOrDefaultDuration("CHUNK_TIMEOUT", 30*time.Second),
		Log:             loadLog(),
		STT: STT{
			Provider:          strings.ToLower(envOrDefault("STT_PROVIDER", ProviderMock)),
			DeepgramAPIKey:    os.Getenv("DEEPGRAM_API_KEY"),
			DeepgramURL:       envOrDefault("DEEPGRAM_URL", "wss://api.deepgram.com/v1/listen"),
			DeepgramHTTPURL:   envOrDefault("DEEPGRAM_HTTP_URL", "https://api.deepgram.com/v1/listen"),
			GoogleCredentials: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			Link: repositories.LinkConfig{
				Model:          envOrDefault("STT_MODEL", "nova-2"),
				Formatting:     repositories.Formatting(strings.ToLower(envOrDefault("STT_FORMATTING", string(repositories.FormattingSmart)))),
				InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
				Language:       envOrDefault("STT_LANGUAGE", "en-US"),
				Encoding:       strings.ToLower(envOrDefault("STT_ENCODING", "linear16")),
				SampleRate:     envOrDefaultInt("STT_SAMPLE_RATE", 16000),
				Channels:       envOrDefaultInt("STT_CHANNELS", 1),
			},
		},
		Kafka: Kafka{
			Enabled: envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers: envOrDefaultList("KAFKA_BROKERS", nil),
			Topic:   envOrDefault("KAFKA_TOPIC", "lecture.transcript"),
		},
	}
}

// Validate checks server settings for consistency
func (s *Server) Validate() error {
	if _, err := strconv.Atoi(s.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", s.Port)
	}
	switch s.STT.Provider {
	case ProviderDeepgram:
		if s.STT.DeepgramAPIKey == "" {
			return errors.New("DEEPGRAM_API_KEY is required for the deepgram provider")
		}
	case ProviderGoogle, ProviderMock:
	default:
		return fmt.Errorf("STT_PROVIDER must be one of: deepgram, google, mock, got %q", s.STT.Provider)
	}
	if err := s.STT.Link.Validate(); err != nil {
		return fmt.Errorf("invalid link config: %w", err)
	}
	if s.RecordingsDir == "" {
		return errors.New("RECORDINGS_DIR is required")
	}
	if s.LinkOpenTimeout < 0 || s.IdleTimeout < 0 {
		return errors.New("LINK_OPEN_TIMEOUT and IDLE_TIMEOUT must not be negative")
	}
	if s.ChunkTimeout <= 0 {
		return errors.New("CHUNK_TIMEOUT must be positive")
	}
	if s.Kafka.Enabled {
		if len(s.Kafka.Brokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if s.Kafka.Topic == "" {
			return errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	return nil
}

// LoadRecorder reads recorder settings from the environment
func LoadRecorder() *Recorder {
	return &Recorder{
		RelayURL:           envOrDefault("RELAY_URL", "ws://localhost:8080/ws"),
		TranscribeURL:      envOrDefault("TRANSCRIBE_URL", "http://localhost:8080/api/transcribe-chunk"),
		SliceInterval:      envOrDefaultDuration("SLICE_INTERVAL", 250*time.Millisecond),
		TranscribeInterval: envOrDefaultDuration("TRANSCRIBE_INTERVAL", 10*time.Second),
		Overlap:            envOrDefaultDuration("OVERLAP", 2*time.Second),
		TranscribeTimeout:  envOrDefaultDuration("TRANSCRIBE_TIMEOUT", 30*time.Second),
		FlushGrace:         envOrDefaultDuration("FLUSH_GRACE", 15*time.Second),
		CaptureDevice:      strings.ToLower(envOrDefault("CAPTURE_DEVICE", CaptureMalgo)),
		SampleRate:         envOrDefaultInt("SAMPLE_RATE", 16000),
		Channels:           envOrDefaultInt("CHANNELS", 1),
		ResetOnStart:       envOrDefaultBool("RESET_ON_START", true),
		Log:                loadLog(),
	}
}

// Validate checks recorder settings for consistency
func (r *Recorder) Validate() error {
	if err := validateURL("RELAY_URL", r.RelayURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("TRANSCRIBE_URL", r.TranscribeURL, "http", "https"); err != nil {
		return err
	}
	if r.CaptureDevice != CaptureMalgo && r.CaptureDevice != CaptureTone {
		return fmt.Errorf("CAPTURE_DEVICE must be one of: malgo, tone, got %q", r.CaptureDevice)
	}
	if r.TranscribeTimeout <= 0 {
		return errors.New("TRANSCRIBE_TIMEOUT must be positive")
	}
	if r.SliceInterval <= 0 {
		return errors.New("SLICE_INTERVAL must be positive")
	}
	if r.TranscribeInterval <= 0 || r.TranscribeInterval%r.SliceInterval != 0 {
		return fmt.Errorf("TRANSCRIBE_INTERVAL must be a positive multiple of SLICE_INTERVAL (%s), got %s", r.SliceInterval, r.TranscribeInterval)
	}
	if r.Overlap < 0 || r.FlushGrace < 0 {
		return errors.New("OVERLAP and FLUSH_GRACE must not be negative")
	}
	if err := r.Format().Validate(); err != nil {
		return fmt.Errorf("invalid capture format: %w", err)
	}
	return nil
}

// Format returns the capture format the recorder declares to the relay.
func (r *Recorder) Format() entities.AudioFormat {
	return entities.AudioFormat{
		Encoding:   entities.EncodingLinear16,
		SampleRate: r.SampleRate,
		Channels:   r.Channels,
	}
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL, got %q", key, strings.Join(schemes, "/"), raw)
}

func loadLog() Log {
	return Log{
		Level: strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Env:   strings.ToLower(envOrDefault("APP_ENV", "production")),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
