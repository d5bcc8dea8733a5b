// Package recording keeps a durable WAV copy of every relay session's audio.
package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain/entities"
	"github.com/jdsouz07/lecture-ai/domain/repositories"
	"github.com/jdsouz07/lecture-ai/internal/audio"
)

var ErrClosed = errors.New("recording already closed")

// Store creates session recordings under a directory.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates the recordings directory if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Store{dir: dir, logger: logger, now: time.Now}, nil
}

// Dir returns the recordings directory.
func (s *Store) Dir() string { return s.dir }

// Create opens recording-<unix-ms>-<sessionID>.wav for a new session.
func (s *Store) Create(sessionID string, format entities.AudioFormat) (repositories.RecordingWriter, error) {
	name := fmt.Sprintf("recording-%d-%s.wav", s.now().UnixMilli(), sessionID)
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	enc := wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)
	// Lay down the RIFF and data headers so an empty session is still a valid file.
	if err := enc.Write(audio.IntBuffer(nil, format)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write recording header: %w", err)
	}

	s.logger.Debug("Recording created", zap.String("path", path), zap.String("sessionID", sessionID))

	return &Recording{path: path, file: f, enc: enc, format: format}, nil
}

// Recording is one session's audio file. Frames are raw PCM16LE and may
// split a sample across frame boundaries.
type Recording struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	enc     *wav.Encoder
	format  entities.AudioFormat
	pending []byte
	bytes   int64
	closed  bool
}

// Path returns the file path of the recording.
func (r *Recording) Path() string { return r.path }

// Bytes returns the number of PCM bytes written so far.
func (r *Recording) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// Write appends one inbound frame.
func (r *Recording) Write(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	data := frame
	if len(r.pending) > 0 {
		data = append(r.pending, frame...)
		r.pending = nil
	}
	whole := len(data) &^ 1
	if whole < len(data) {
		r.pending = []byte{data[whole]}
	}
	if whole == 0 {
		return nil
	}

	if err := r.enc.Write(audio.IntBuffer(data[:whole], r.format)); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	r.bytes += int64(whole)
	return nil
}

// Close finalizes the WAV headers and closes the file.
func (r *Recording) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	encErr := r.enc.Close()
	fileErr := r.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalize recording: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("close recording: %w", fileErr)
	}
	return nil
}
