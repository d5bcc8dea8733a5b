package repositories

import (
	"context"

	"github.com/jdsouz07/lecture-ai/domain"
	"github.com/jdsouz07/lecture-ai/domain/entities"
)

// RecordingWriter receives the raw audio of one relay session
type RecordingWriter interface {
	Write(frame []byte) error
	Close() error
	Path() string
}

// RecordingStore creates durable session recordings
type RecordingStore interface {
	Create(sessionID string, format entities.AudioFormat) (RecordingWriter, error)
}

// TranscriptSink receives every transcript relayed to a client
type TranscriptSink interface {
	PublishTranscript(ctx context.Context, record domain.TranscriptRecord) error
}
