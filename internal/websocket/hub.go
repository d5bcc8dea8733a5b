package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain/entities"
	"github.com/jdsouz07/lecture-ai/domain/repositories"
	"github.com/jdsouz07/lecture-ai/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio frames
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var errMissingFormat = errors.New("encoding, sample_rate and channels query parameters are required")

// Hub maintains the set of active relay sessions.
type Hub struct {
	// Registered sessions.
	sessions map[string]*RelaySession

	// Register requests from new sessions.
	register chan *RelaySession

	// Unregister requests from ended sessions.
	unregister chan *RelaySession

	// Mutex for thread-safe access to sessions map
	mu sync.RWMutex

	quit     chan struct{}
	stopOnce sync.Once

	link       repositories.LinkConfig
	recognizer repositories.SpeechRecognizer
	recordings repositories.RecordingStore
	sink       repositories.TranscriptSink
	metrics    *metrics.Metrics

	logger *zap.Logger
}

// NewHub creates a new relay hub. Every session opens one link with the
// given configuration. recordings and sink may be nil.
func NewHub(
	link repositories.LinkConfig,
	recognizer repositories.SpeechRecognizer,
	recordings repositories.RecordingStore,
	sink repositories.TranscriptSink,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		sessions:   make(map[string]*RelaySession),
		register:   make(chan *RelaySession),
		unregister: make(chan *RelaySession),
		quit:       make(chan struct{}),
		link:       link,
		recognizer: recognizer,
		recordings: recordings,
		sink:       sink,
		metrics:    m,
		logger:     logger,
	}
}

// Run starts the hub's main loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s.id] = s
			h.mu.Unlock()
			h.metrics.RecordSessionStart()
			h.logger.Info("Session registered", zap.String("sessionID", s.id))

		case s := <-h.unregister:
			h.detach(s)

		case <-h.quit:
			for _, s := range h.Sessions() {
				go s.terminate(reasonShutdown, nil)
			}
			return
		}
	}
}

func (h *Hub) detach(s *RelaySession) {
	h.mu.Lock()
	if _, ok := h.sessions[s.id]; ok {
		delete(h.sessions, s.id)
		s.closeSend()
	}
	h.mu.Unlock()
	h.logger.Info("Session unregistered", zap.String("sessionID", s.id))
}

// remove unregisters an ended session, directly if Run has already stopped.
func (h *Hub) remove(s *RelaySession) {
	select {
	case h.unregister <- s:
	case <-h.quit:
		h.detach(s)
	}
}

// Shutdown ends every session and waits for them to close or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.quit) })

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for h.ActiveSessions() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("relay shutdown: %d sessions still open: %w", h.ActiveSessions(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// ActiveSessions returns the number of registered sessions
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sessions returns a snapshot of the registered sessions
func (h *Hub) Sessions() []*RelaySession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sessions := make([]*RelaySession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// HandleWebSocket validates the declared capture format, upgrades the
// connection and starts a relay session with its own recognition link.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	format, err := declaredFormat(c.QueryParams())
	if err != nil {
		return h.reject(c, http.StatusBadRequest, RejectInvalidFormat, err.Error())
	}
	if err := h.link.Accepts(format); err != nil {
		return h.reject(c, http.StatusBadRequest, RejectFormatMismatch, err.Error())
	}

	select {
	case <-h.quit:
		return h.reject(c, http.StatusServiceUnavailable, RejectShuttingDown, "relay is shutting down")
	default:
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return nil
	}

	id := uuid.NewString()
	info := entities.NewSession(id, c.RealIP(), h.recognizer.Name(), format)

	var recording repositories.RecordingWriter
	if h.recordings != nil {
		recording, err = h.recordings.Create(id, format)
		if err != nil {
			h.logger.Error("Failed to create session recording", zap.String("sessionID", id), zap.Error(err))
			recording = nil
		}
	}

	s := newRelaySession(h, conn, id, info, recording)

	select {
	case h.register <- s:
	case <-h.quit:
		conn.Close()
		if recording != nil {
			recording.Close()
		}
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go s.writePump()
	go s.readPump()
	s.openLink()

	return nil
}

func (h *Hub) reject(c echo.Context, status int, code, message string) error {
	h.metrics.RecordSessionRejected(code)
	return c.JSON(status, RejectResponse{Error: code, Message: message})
}

// declaredFormat reads the client's capture format from the query string.
func declaredFormat(q url.Values) (entities.AudioFormat, error) {
	encoding := strings.ToLower(q.Get("encoding"))
	rate := q.Get("sample_rate")
	channels := q.Get("channels")
	if encoding == "" || rate == "" || channels == "" {
		return entities.AudioFormat{}, errMissingFormat
	}

	sampleRate, err := strconv.Atoi(rate)
	if err != nil {
		return entities.AudioFormat{}, fmt.Errorf("invalid sample_rate %q: %w", rate, err)
	}
	ch, err := strconv.Atoi(channels)
	if err != nil {
		return entities.AudioFormat{}, fmt.Errorf("invalid channels %q: %w", channels, err)
	}

	format := entities.AudioFormat{Encoding: encoding, SampleRate: sampleRate, Channels: ch}
	if err := format.Validate(); err != nil {
		return entities.AudioFormat{}, err
	}
	return format, nil
}
