package recorder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain"
	"github.com/jdsouz07/lecture-ai/domain/entities"
	relayws "github.com/jdsouz07/lecture-ai/internal/websocket"
)

const (
	relayWriteWait = 10 * time.Second
	relayCloseWait = time.Second
)

// RelayConn is an open live relay connection.
type RelayConn interface {
	// Send writes one binary audio frame. It may block while the network is
	// slow; the recorder calls it from a single writer goroutine.
	Send(frame []byte) error
	// Transcripts delivers transcript text in server order. It is closed
	// when the connection ends.
	Transcripts() <-chan string
	// Err explains why Transcripts was closed; nil after Close.
	Err() error
	// Close ends the connection and unblocks a pending Send. It is safe to
	// call concurrently with Send.
	Close() error
}

// RelayDialer opens relay connections.
type RelayDialer interface {
	Dial(ctx context.Context, format entities.AudioFormat) (RelayConn, error)
}

// WebsocketDialer dials the relay's /ws endpoint.
type WebsocketDialer struct {
	URL    string
	Dialer *websocket.Dialer
	Logger *zap.Logger
}

// Dial implements RelayDialer. Failures wrap ErrLinkSetup.
func (d *WebsocketDialer) Dial(ctx context.Context, format entities.AudioFormat) (RelayConn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid relay url: %v", ErrLinkSetup, err)
	}
	q := u.Query()
	q.Set("encoding", format.Encoding)
	q.Set("sample_rate", strconv.Itoa(format.SampleRate))
	q.Set("channels", strconv.Itoa(format.Channels))
	u.RawQuery = q.Encode()

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: relay returned %d: %v", ErrLinkSetup, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrLinkSetup, err)
	}

	r := &wsRelay{
		conn:        conn,
		transcripts: make(chan string, 64),
		done:        make(chan struct{}),
		validator:   relayws.NewMessageValidator(),
		logger:      d.Logger,
	}
	go r.readLoop()
	return r, nil
}

type wsRelay struct {
	conn        *websocket.Conn
	writeMu     sync.Mutex
	transcripts chan string
	done        chan struct{}
	closeOnce   sync.Once
	validator   *relayws.MessageValidator
	logger      *zap.Logger

	mu     sync.Mutex
	err    error
	notice *relayws.ErrorMessage
}

func (r *wsRelay) Transcripts() <-chan string { return r.transcripts }

func (r *wsRelay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *wsRelay) readLoop() {
	defer close(r.transcripts)

	for {
		messageType, data, err := r.conn.ReadMessage()
		if err != nil {
			r.finish(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := r.validator.ValidateMessage(data)
		if err != nil {
			if !errors.Is(err, relayws.ErrUnsupportedMessage) {
				r.logger.Debug("Dropping malformed relay event", zap.Error(err))
			}
			continue
		}

		switch m := msg.(type) {
		case *domain.TranscriptEvent:
			if m.Text == "" {
				continue
			}
			select {
			case r.transcripts <- m.Text:
			case <-r.done:
				return
			}
		case *relayws.ErrorMessage:
			r.mu.Lock()
			r.notice = m
			r.mu.Unlock()
			r.logger.Warn("Relay reported an error",
				zap.String("code", m.Code),
				zap.String("message", m.Message))
		}
	}
}

// finish records why the read side ended.
func (r *wsRelay) finish(readErr error) {
	select {
	case <-r.done:
		return
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notice != nil {
		r.err = fmt.Errorf("%w: %s: %s", ErrRelayLost, r.notice.Code, r.notice.Message)
		return
	}
	r.err = fmt.Errorf("%w: %v", ErrRelayLost, readErr)
}

func (r *wsRelay) Send(frame []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	select {
	case <-r.done:
		return net.ErrClosed
	default:
	}
	r.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	return r.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close sends a normal close frame and closes the connection. The close
// frame goes out through WriteControl so a stalled Send cannot hold it up.
func (r *wsRelay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)

		r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(relayCloseWait))

		err = r.conn.Close()
	})
	return err
}
