package entities

import (
	"errors"
	"time"
)

// SessionStatus represents the status of a relay session
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusFinished SessionStatus = "finished"
	SessionStatusFailed   SessionStatus = "failed"
)

// Session is the bookkeeping record of one client relay connection. It is
// not safe for concurrent use; the owning relay guards it.
type Session struct {
	ID           string        `json:"id"`
	RemoteAddr   string        `json:"remote_addr"`
	Provider     string        `json:"provider"`
	Format       AudioFormat   `json:"format"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	Status       SessionStatus `json:"status"`
	FailReason   string        `json:"fail_reason,omitempty"`

	FramesReceived  int64 `json:"frames_received"`
	FramesForwarded int64 `json:"frames_forwarded"`
	FramesDropped   int64 `json:"frames_dropped"`
	BytesReceived   int64 `json:"bytes_received"`
	Transcripts     int64 `json:"transcripts"`

	RecordingPath string `json:"recording_path,omitempty"`
}

// NewSession creates an active session record
func NewSession(id, remoteAddr, provider string, format AudioFormat) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		RemoteAddr:   remoteAddr,
		Provider:     provider,
		Format:       format,
		CreatedAt:    now,
		LastActiveAt: now,
		Status:       SessionStatusActive,
	}
}

// RecordFrame accounts for one inbound audio frame
func (s *Session) RecordFrame(size int, forwarded bool) {
	s.FramesReceived++
	s.BytesReceived += int64(size)
	if forwarded {
		s.FramesForwarded++
	} else {
		s.FramesDropped++
	}
	s.UpdateLastActive()
}

// RecordTranscript accounts for one transcript event sent to the client
func (s *Session) RecordTranscript() {
	s.Transcripts++
	s.UpdateLastActive()
}

// UpdateLastActive updates the last active timestamp
func (s *Session) UpdateLastActive() {
	s.LastActiveAt = time.Now()
}

// IsActive reports whether the session has not ended yet
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Finish marks the session as ended by the client
func (s *Session) Finish() {
	if !s.IsActive() {
		return
	}
	now := time.Now()
	s.Status = SessionStatusFinished
	s.EndedAt = &now
}

// Fail marks the session as ended by a link or transport failure
func (s *Session) Fail(reason string) {
	if !s.IsActive() {
		return
	}
	now := time.Now()
	s.Status = SessionStatusFailed
	s.FailReason = reason
	s.EndedAt = &now
}

// Duration returns how long the session has been (or was) open
func (s *Session) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}

	if s.Status != SessionStatusActive && s.Status != SessionStatusFinished && s.Status != SessionStatusFailed {
		return errors.New("invalid session status")
	}

	return s.Format.Validate()
}
