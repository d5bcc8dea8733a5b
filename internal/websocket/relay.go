package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain"
	"github.com/jdsouz07/lecture-ai/domain/entities"
	"github.com/jdsouz07/lecture-ai/domain/repositories"
)

type terminationReason int

const (
	reasonClientGone terminationReason = iota
	reasonLinkFailed
	reasonLinkTimeout
	reasonIdle
	reasonShutdown
)

func (r terminationReason) String() string {
	switch r {
	case reasonClientGone:
		return "client_gone"
	case reasonLinkFailed:
		return "link_failed"
	case reasonLinkTimeout:
		return "link_timeout"
	case reasonIdle:
		return "idle"
	case reasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

var errLinkClosed = errors.New("recognition link closed by backend")

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// RelaySession bridges one client connection to one recognition link.
// Inbound binary frames are recorded and forwarded while the link is ready;
// link transcripts are sent back as transcript events.
type RelaySession struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger

	// Buffered channel of outbound messages.
	send       chan WriteData
	sendMu     sync.Mutex
	sendClosed bool
	closeCode  int
	closeText  string

	recording       repositories.RecordingWriter
	recordingFailed bool

	mu           sync.Mutex
	info         *entities.Session
	link         repositories.SpeechRecognitionLink
	linkOpenedAt time.Time
	terminated   bool

	terminateOnce sync.Once
	done          chan struct{}
}

func newRelaySession(h *Hub, conn *websocket.Conn, id string, info *entities.Session, recording repositories.RecordingWriter) *RelaySession {
	return &RelaySession{
		id:        id,
		hub:       h,
		conn:      conn,
		logger:    h.logger.With(zap.String("sessionID", id)),
		send:      make(chan WriteData, 256),
		closeCode: websocket.CloseNormalClosure,
		recording: recording,
		info:      info,
		done:      make(chan struct{}),
	}
}

// ID returns the session identifier
func (s *RelaySession) ID() string { return s.id }

// Done is closed once the session has terminated.
func (s *RelaySession) Done() <-chan struct{} { return s.done }

// Info returns a snapshot of the session record.
func (s *RelaySession) Info() entities.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.info
}

// openLink opens the session's only recognition link.
func (s *RelaySession) openLink() {
	link, err := s.hub.recognizer.Connect(context.Background(), s.hub.link, s)
	if err != nil {
		s.logger.Error("Failed to open recognition link", zap.Error(err))
		s.hub.metrics.RecordLinkError(s.hub.recognizer.Name())
		s.terminate(reasonLinkFailed, err)
		return
	}

	s.mu.Lock()
	s.link = link
	dead := s.terminated
	s.mu.Unlock()

	// The session may have ended while the link was being created.
	if dead {
		link.Close()
	}
}

func (s *RelaySession) currentLink() repositories.SpeechRecognitionLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// OnOpen implements repositories.LinkListener
func (s *RelaySession) OnOpen() {
	s.mu.Lock()
	s.linkOpenedAt = time.Now()
	wait := s.linkOpenedAt.Sub(s.info.CreatedAt)
	s.mu.Unlock()

	s.hub.metrics.RecordLinkOpen(s.hub.recognizer.Name(), wait.Seconds())
	s.logger.Info("Recognition link open", zap.Duration("wait", wait))
}

// OnTranscript implements repositories.LinkListener
func (s *RelaySession) OnTranscript(t repositories.LinkTranscript) {
	text := strings.TrimSpace(t.Best())
	if text == "" {
		s.hub.metrics.RecordTranscriptDiscarded("empty")
		return
	}

	if s.hub.sink != nil {
		record := domain.TranscriptRecord{
			SessionID:  s.id,
			Provider:   s.hub.recognizer.Name(),
			Text:       text,
			IsFinal:    t.IsFinal,
			Confidence: t.Confidence,
			Timestamp:  time.Now().UTC(),
		}
		if err := s.hub.sink.PublishTranscript(context.Background(), record); err != nil {
			s.logger.Warn("Failed to publish transcript", zap.Error(err))
		}
	}

	payload, err := json.Marshal(domain.NewTranscriptEvent(text))
	if err != nil {
		s.logger.Error("Failed to marshal transcript event", zap.Error(err))
		return
	}
	if !s.enqueue(websocket.TextMessage, payload) {
		s.hub.metrics.RecordTranscriptDiscarded("client_unavailable")
		return
	}

	s.mu.Lock()
	s.info.RecordTranscript()
	s.mu.Unlock()
	s.hub.metrics.RecordTranscript()
	s.logger.Debug("Transcript relayed", zap.Int("length", len(text)), zap.Bool("final", t.IsFinal))
}

// OnError implements repositories.LinkListener
func (s *RelaySession) OnError(err error) {
	s.logger.Error("Recognition link failed", zap.Error(err))
	s.hub.metrics.RecordLinkError(s.hub.recognizer.Name())
	s.terminate(reasonLinkFailed, err)
}

// OnClose implements repositories.LinkListener. A close the session did not
// ask for ends the session; links are never reopened.
func (s *RelaySession) OnClose() {
	s.mu.Lock()
	expected := s.terminated
	s.mu.Unlock()
	if expected {
		s.logger.Debug("Recognition link closed")
		return
	}
	s.logger.Warn("Recognition link closed by backend")
	s.terminate(reasonLinkFailed, errLinkClosed)
}

// handleFrame records one inbound frame and forwards it if the link is ready.
func (s *RelaySession) handleFrame(frame []byte) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	link := s.link
	s.mu.Unlock()

	s.writeRecording(frame)

	forwarded := false
	dropReason := "link_not_ready"
	if link != nil && link.Ready() {
		if err := link.Send(frame); err != nil {
			dropReason = "send_failed"
			s.logger.Debug("Failed to forward frame", zap.Error(err))
		} else {
			forwarded = true
		}
	}

	s.mu.Lock()
	s.info.RecordFrame(len(frame), forwarded)
	s.mu.Unlock()
	s.hub.metrics.RecordFrame(len(frame), forwarded, dropReason)
}

func (s *RelaySession) writeRecording(frame []byte) {
	if s.recording == nil || s.recordingFailed {
		return
	}
	if err := s.recording.Write(frame); err != nil {
		s.recordingFailed = true
		s.logger.Error("Failed to write session recording, recording disabled", zap.Error(err))
	}
}

// enqueue queues an outbound message without blocking. It reports false when
// the session is closed or the client is not keeping up.
func (s *RelaySession) enqueue(messageType int, payload []byte) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendClosed {
		return false
	}
	select {
	case s.send <- WriteData{Type: messageType, Payload: payload}:
		return true
	default:
		s.logger.Warn("Outbound buffer full, dropping message")
		return false
	}
}

// closeSend closes the outbound channel; writePump then sends the close
// frame and closes the connection.
func (s *RelaySession) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.send)
	}
}

// terminate ends the session exactly once.
func (s *RelaySession) terminate(reason terminationReason, cause error) {
	s.terminateOnce.Do(func() {
		s.mu.Lock()
		s.terminated = true
		link := s.link
		s.mu.Unlock()

		if link != nil {
			var err error
			switch reason {
			case reasonLinkFailed, reasonLinkTimeout:
				err = link.Close()
			default:
				// Let the backend flush what it already has.
				err = link.Finish()
			}
			if err != nil {
				s.logger.Warn("Failed to end recognition link", zap.Error(err))
			}
		}

		if reason != reasonClientGone {
			code, closeCode := noticeFor(reason)
			message := reason.String()
			if cause != nil {
				message = cause.Error()
			}
			if payload, err := json.Marshal(CreateErrorMessage(code, message)); err == nil {
				s.enqueue(websocket.TextMessage, payload)
			}
			s.sendMu.Lock()
			s.closeCode = closeCode
			s.closeText = code
			s.sendMu.Unlock()
		}

		if s.recording != nil {
			if err := s.recording.Close(); err != nil {
				s.logger.Error("Failed to finalize session recording", zap.Error(err))
			}
		}

		s.mu.Lock()
		if reason == reasonClientGone || reason == reasonShutdown {
			s.info.Finish()
		} else {
			s.info.Fail(reason.String())
		}
		if s.recording != nil {
			s.info.RecordingPath = s.recording.Path()
		}
		summary := *s.info
		s.mu.Unlock()

		s.hub.metrics.RecordSessionEnd(string(summary.Status), summary.Duration().Seconds())
		fields := []zap.Field{
			zap.String("reason", reason.String()),
			zap.Int64("framesReceived", summary.FramesReceived),
			zap.Int64("framesForwarded", summary.FramesForwarded),
			zap.Int64("framesDropped", summary.FramesDropped),
			zap.Int64("transcripts", summary.Transcripts),
			zap.Duration("duration", summary.Duration()),
			zap.String("recording", summary.RecordingPath),
		}
		if cause != nil {
			fields = append(fields, zap.Error(cause))
		}
		s.logger.Info("Relay session ended", fields...)

		s.hub.remove(s)
		close(s.done)
	})
}

func noticeFor(reason terminationReason) (string, int) {
	switch reason {
	case reasonLinkTimeout:
		return ErrorCodeLinkTimeout, websocket.CloseInternalServerErr
	case reasonIdle:
		return ErrorCodeIdle, websocket.ClosePolicyViolation
	case reasonShutdown:
		return ErrorCodeShutdown, websocket.CloseGoingAway
	default:
		return ErrorCodeLinkFailed, websocket.CloseInternalServerErr
	}
}

// checkHealth ends sessions whose link never opened or whose client stopped
// sending audio.
func (s *RelaySession) checkHealth(now time.Time, linkOpenTimeout, idleTimeout time.Duration) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	created := s.info.CreatedAt
	lastActive := s.info.LastActiveAt
	opened := !s.linkOpenedAt.IsZero()
	s.mu.Unlock()

	switch {
	case linkOpenTimeout > 0 && !opened && now.Sub(created) > linkOpenTimeout:
		s.hub.metrics.RecordLinkError(s.hub.recognizer.Name())
		s.terminate(reasonLinkTimeout, fmt.Errorf("recognition link not ready after %s", linkOpenTimeout))
	case idleTimeout > 0 && now.Sub(lastActive) > idleTimeout:
		s.terminate(reasonIdle, fmt.Errorf("no audio for %s", idleTimeout))
	}
}

// readPump pumps frames from the websocket connection to the link.
func (s *RelaySession) readPump() {
	defer func() {
		s.terminate(reasonClientGone, nil)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.handleFrame(message)
		case websocket.TextMessage:
			s.logger.Debug("Ignoring text message from client", zap.Int("size", len(message)))
		}
	}
}

// writePump pumps messages from the session to the websocket connection.
func (s *RelaySession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.sendMu.Lock()
				code, text := s.closeCode, s.closeText
				s.sendMu.Unlock()
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
				return
			}

			if err := s.conn.WriteMessage(message.Type, message.Payload); err != nil {
				s.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
