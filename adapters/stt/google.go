package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jdsouz07/lecture-ai/domain/repositories"
)

const googleFinishTimeout = 10 * time.Second

// Recognition models Google accepts; other model names are left to the
// backend default.
var googleModels = map[string]bool{
	"latest_long":        true,
	"latest_short":       true,
	"default":            true,
	"video":              true,
	"phone_call":         true,
	"command_and_search": true,
}

// GoogleSpeechToText implements SpeechRecognizer and SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	opts   []option.ClientOption
	logger *zap.Logger
}

// NewGoogleSpeechToText creates a Google Cloud Speech adapter
func NewGoogleSpeechToText(logger *zap.Logger, opts ...option.ClientOption) *GoogleSpeechToText {
	return &GoogleSpeechToText{opts: opts, logger: logger}
}

// Name implements repositories.SpeechRecognizer
func (g *GoogleSpeechToText) Name() string { return "google" }

// Connect implements repositories.SpeechRecognizer. The client and stream
// are created in the background.
func (g *GoogleSpeechToText) Connect(ctx context.Context, config repositories.LinkConfig, listener repositories.LinkListener) (repositories.SpeechRecognitionLink, error) {
	streamingConfig, err := streamingRecognitionConfig(config)
	if err != nil {
		return nil, err
	}

	linkCtx, cancel := context.WithCancel(ctx)
	link := &googleLink{
		ctx:      linkCtx,
		cancel:   cancel,
		listener: listener,
		logger:   g.logger,
	}
	go link.run(g.opts, streamingConfig)

	return link, nil
}

func recognitionConfig(encodingName string, sampleRate, channels int, language, model string, punctuate bool) (*speechpb.RecognitionConfig, error) {
	encoding, err := getAudioEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	if channels == 0 {
		channels = 1
	}

	rc := &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		SampleRateHertz:            int32(sampleRate),
		AudioChannelCount:          int32(channels),
		LanguageCode:               language,
		EnableAutomaticPunctuation: punctuate,
	}
	if googleModels[model] {
		rc.Model = model
	}
	return rc, nil
}

func streamingRecognitionConfig(config repositories.LinkConfig) (*speechpb.StreamingRecognitionConfig, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid link config: %w", err)
	}
	rc, err := recognitionConfig(config.Encoding, config.SampleRate, config.Channels, config.Language, config.Model,
		config.Formatting == repositories.FormattingSmart)
	if err != nil {
		return nil, err
	}
	return &speechpb.StreamingRecognitionConfig{
		Config:         rc,
		InterimResults: config.InterimResults,
	}, nil
}

type googleLink struct {
	ctx      context.Context
	cancel   context.CancelFunc
	listener repositories.LinkListener
	logger   *zap.Logger

	ready atomic.Bool

	mu       sync.Mutex
	client   *speech.Client
	stream   speechpb.Speech_StreamingRecognizeClient
	finished bool
	closed   bool
}

func (l *googleLink) run(opts []option.ClientOption, streamingConfig *speechpb.StreamingRecognitionConfig) {
	client, stream, err := l.open(opts, streamingConfig)
	if err != nil {
		if !l.ended() {
			l.listener.OnError(err)
		}
		return
	}

	l.mu.Lock()
	if l.finished || l.closed {
		l.mu.Unlock()
		stream.CloseSend()
		client.Close()
		return
	}
	l.client = client
	l.stream = stream
	l.ready.Store(true)
	l.mu.Unlock()

	l.listener.OnOpen()
	l.receiveResults(stream)
}

func (l *googleLink) open(opts []option.ClientOption, streamingConfig *speechpb.StreamingRecognitionConfig) (*speech.Client, speechpb.Speech_StreamingRecognizeClient, error) {
	// Create Google Cloud Speech client
	client, err := speech.NewClient(l.ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(l.ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	// Send initial configuration
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig,
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return client, stream, nil
}

func (l *googleLink) ended() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finished || l.closed
}

func (l *googleLink) receiveResults(stream speechpb.Speech_StreamingRecognizeClient) {
	defer func() {
		l.ready.Store(false)
		l.cleanup()
	}()

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			// Stream ended normally
			l.listener.OnClose()
			return
		}
		if err != nil {
			if l.ended() && status.Code(err) == codes.Canceled {
				l.listener.OnClose()
				return
			}
			l.listener.OnError(fmt.Errorf("failed to receive response (%s): %w", status.Code(err), err))
			return
		}
		if resp.GetError() != nil && resp.GetError().GetCode() != int32(codes.OK) {
			l.listener.OnError(fmt.Errorf("recognition error (%s): %s",
				codes.Code(resp.GetError().GetCode()), resp.GetError().GetMessage()))
			return
		}

		for _, result := range resp.GetResults() {
			transcript, ok := toLinkTranscript(result)
			if !ok {
				l.logger.Debug("Dropping google result without alternatives")
				continue
			}
			l.listener.OnTranscript(transcript)
		}
	}
}

func toLinkTranscript(result *speechpb.StreamingRecognitionResult) (repositories.LinkTranscript, bool) {
	alternatives := result.GetAlternatives()
	if len(alternatives) == 0 {
		return repositories.LinkTranscript{}, false
	}

	transcript := repositories.LinkTranscript{
		IsFinal:    result.GetIsFinal(),
		Confidence: float64(alternatives[0].GetConfidence()),
	}
	for _, alt := range alternatives {
		transcript.Alternatives = append(transcript.Alternatives, strings.TrimSpace(alt.GetTranscript()))
	}
	return transcript, true
}

// Ready implements repositories.SpeechRecognitionLink
func (l *googleLink) Ready() bool {
	return l.ready.Load()
}

// Send implements repositories.SpeechRecognitionLink
func (l *googleLink) Send(frame []byte) error {
	if !l.ready.Load() {
		return repositories.ErrLinkNotReady
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stream == nil || l.finished || l.closed {
		return repositories.ErrLinkNotReady
	}
	if err := l.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: frame,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Finish implements repositories.SpeechRecognitionLink. Google returns the
// remaining results and then io.EOF after CloseSend.
func (l *googleLink) Finish() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finished || l.closed {
		return nil
	}
	l.finished = true
	l.ready.Store(false)

	if l.stream == nil {
		l.cancel()
		return nil
	}

	time.AfterFunc(googleFinishTimeout, func() { l.Close() })

	if err := l.stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send stream: %w", err)
	}
	return nil
}

// Close implements repositories.SpeechRecognitionLink
func (l *googleLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.ready.Store(false)
	l.mu.Unlock()

	l.cancel()
	return nil
}

func (l *googleLink) cleanup() {
	l.cancel()
	l.mu.Lock()
	client := l.client
	l.client = nil
	l.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

// TranscribeAudio converts audio data to text using Google Cloud Speech-to-Text (non-streaming)
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", errors.New("no audio data received")
	}

	rc, err := recognitionConfig(config.Encoding, config.SampleRate, config.Channels, config.Language, "", true)
	if err != nil {
		return "", err
	}

	client, err := speech.NewClient(ctx, g.opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create speech client: %w", err)
	}
	defer client.Close()

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: rc,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to recognize (%s): %w", status.Code(err), err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		if alts := result.GetAlternatives(); len(alts) > 0 {
			if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
				parts = append(parts, text)
			}
		}
	}

	g.logger.Debug("Google transcription completed",
		zap.Int("audioSize", len(audioData)),
		zap.Int("results", len(parts)))

	return strings.Join(parts, " "), nil
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
