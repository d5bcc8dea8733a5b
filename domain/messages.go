package domain

import "time"

// EventTypeTranscript is the only server-to-client event type the recorder acts on.
const EventTypeTranscript = "transcript"

// TranscriptEvent is sent to the relay client for every non-empty
// recognition result.
type TranscriptEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTranscriptEvent builds a transcript event
func NewTranscriptEvent(text string) TranscriptEvent {
	return TranscriptEvent{Type: EventTypeTranscript, Text: text}
}

// ChunkTranscriptionResponse is the body returned by the polling endpoint.
// Text is omitted when nothing was recognized.
type ChunkTranscriptionResponse struct {
	Text string `json:"text,omitempty"`
}

// TranscriptRecord is the event published to downstream consumers for every
// transcript relayed to a client.
type TranscriptRecord struct {
	EventType  string    `json:"eventType"`
	SessionID  string    `json:"sessionId"`
	Provider   string    `json:"provider"`
	Text       string    `json:"text"`
	IsFinal    bool      `json:"isFinal"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
