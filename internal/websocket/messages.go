package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jdsouz07/lecture-ai/domain"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeTranscript MessageType = domain.EventTypeTranscript
	MessageTypeError      MessageType = "error"
)

// Error codes sent before the server closes a relay connection
const (
	ErrorCodeLinkFailed  = "link_failed"
	ErrorCodeLinkTimeout = "link_timeout"
	ErrorCodeIdle        = "idle_timeout"
	ErrorCodeShutdown    = "shutdown"
)

var ErrUnsupportedMessage = errors.New("unsupported message type")

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// ErrorMessage represents an error notice sent before the connection closes
type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"error_code"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// RejectResponse is the JSON body returned when a connection is refused
// before the upgrade.
type RejectResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Rejection codes returned before the upgrade
const (
	RejectInvalidFormat  = "invalid_format"
	RejectFormatMismatch = "format_mismatch"
	RejectShuttingDown   = "shutting_down"
)

// transcriptWire distinguishes a missing text field from an empty one.
type transcriptWire struct {
	Type MessageType `json:"type"`
	Text *string     `json:"text"`
}

// MessageValidator parses server-to-client relay events
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an event received from the relay. It returns
// *domain.TranscriptEvent or *ErrorMessage.
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	// First parse as base message to get type
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeTranscript:
		var msg transcriptWire
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid transcript message: %w", err)
		}
		if msg.Text == nil {
			return nil, fmt.Errorf("text is required")
		}
		event := domain.NewTranscriptEvent(*msg.Text)
		return &event, nil

	case MessageTypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid error message: %w", err)
		}
		if msg.Code == "" {
			return nil, fmt.Errorf("error_code is required")
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMessage, base.Type)
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:      MessageTypeError,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}
