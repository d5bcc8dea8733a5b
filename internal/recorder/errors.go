package recorder

import (
	"errors"
	"fmt"
)

var (
	// ErrDevice means the capture device is unavailable or access was denied.
	ErrDevice = errors.New("capture device unavailable")

	// ErrLinkSetup means the relay connection could not be opened.
	ErrLinkSetup = errors.New("relay link setup failed")

	// ErrRelayLost means an established relay connection ended without Stop.
	ErrRelayLost = errors.New("relay connection lost")

	ErrAlreadyRunning    = errors.New("recorder already running")
	ErrNotRunning        = errors.New("recorder not running")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// ChunkError is a failed re-transcription of one polling chunk. It is never
// fatal to the session.
type ChunkError struct {
	Seq        uint64
	StatusCode int
	Err        error
}

func (e *ChunkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chunk %d: transcription returned %d: %v", e.Seq, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("chunk %d: %v", e.Seq, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }
