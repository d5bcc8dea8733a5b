package recorder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testUpgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWebsocketDialer_RelaysTranscriptsAndFrames(t *testing.T) {
	frames := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "linear16", r.URL.Query().Get("encoding"))
		assert.Equal(t, "16000", r.URL.Query().Get("sample_rate"))
		assert.Equal(t, "1", r.URL.Query().Get("channels"))

		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		frames <- frame

		for _, msg := range []string{
			`{"type":"transcript","text":"first"}`,
			`garbage`,
			`{"type":"speaker","id":3}`,
			`{"type":"transcript","text":""}`,
			`{"type":"transcript","text":"second"}`,
		} {
			conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	}))
	defer srv.Close()

	d := &WebsocketDialer{URL: wsURL(srv), Logger: zaptest.NewLogger(t)}
	conn, err := d.Dial(context.Background(), mono16k)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte{1, 2, 3, 4}))
	select {
	case f := <-frames:
		assert.Equal(t, []byte{1, 2, 3, 4}, f)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the frame")
	}

	var texts []string
	for text := range conn.Transcripts() {
		texts = append(texts, text)
	}
	assert.Equal(t, []string{"first", "second"}, texts)
	assert.ErrorIs(t, conn.Err(), ErrRelayLost)
}

func TestWebsocketDialer_ServerErrorNotice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error_code":"link_failed","message":"backend down","timestamp":"2024-01-01T00:00:00Z"}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "link_failed"))
	}))
	defer srv.Close()

	d := &WebsocketDialer{URL: wsURL(srv), Logger: zaptest.NewLogger(t)}
	conn, err := d.Dial(context.Background(), mono16k)
	require.NoError(t, err)
	defer conn.Close()

	for range conn.Transcripts() {
		t.Error("no transcripts expected")
	}
	err = conn.Err()
	assert.ErrorIs(t, err, ErrRelayLost)
	assert.Contains(t, err.Error(), "link_failed")
}

func TestWebsocketDialer_CloseIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := &WebsocketDialer{URL: wsURL(srv), Logger: zaptest.NewLogger(t)}
	conn, err := d.Dial(context.Background(), mono16k)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	for range conn.Transcripts() {
	}
	assert.NoError(t, conn.Err())
	assert.Error(t, conn.Send([]byte{1}))
}

func TestWebsocketDialer_RejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"format_mismatch"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	d := &WebsocketDialer{URL: wsURL(srv), Logger: zaptest.NewLogger(t)}
	_, err := d.Dial(context.Background(), mono16k)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLinkSetup))
	assert.Contains(t, err.Error(), "400")
}
