package stt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jdsouz07/lecture-ai/domain/repositories"
)

func TestMockLink_Lifecycle(t *testing.T) {
	mock := NewMockSpeechToText(zaptest.NewLogger(t))
	mock.OpenDelay = 10 * time.Millisecond
	mock.BytesPerTranscript = 100

	listener := newRecordingListener()
	link, err := mock.Connect(context.Background(), testLinkConfig(), listener)
	require.NoError(t, err)

	// Frames are refused until the link opens.
	assert.ErrorIs(t, link.Send(make([]byte, 10)), repositories.ErrLinkNotReady)

	waitFor(t, listener.opened, "open")
	require.True(t, link.Ready())

	require.NoError(t, link.Send(make([]byte, 150)))
	require.NoError(t, link.Send(make([]byte, 60)))

	require.Eventually(t, func() bool { return len(listener.texts()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, mockPhrases[:2], listener.texts())

	require.NoError(t, link.Finish())
	waitFor(t, listener.closed, "close")
	assert.False(t, link.Ready())

	// Finish and Close are idempotent.
	assert.NoError(t, link.Finish())
	assert.NoError(t, link.Close())
}

func TestMockLink_FinishBeforeOpen(t *testing.T) {
	mock := NewMockSpeechToText(zaptest.NewLogger(t))
	mock.OpenDelay = 50 * time.Millisecond

	listener := newRecordingListener()
	link, err := mock.Connect(context.Background(), testLinkConfig(), listener)
	require.NoError(t, err)
	require.NoError(t, link.Finish())

	select {
	case <-listener.opened:
		t.Fatal("a finished link must not open")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMockSpeechToText_TranscribeAudio(t *testing.T) {
	mock := NewMockSpeechToText(zaptest.NewLogger(t))
	cfg := repositories.AudioConfig{Encoding: "linear16", SampleRate: 16000, Channels: 1}

	text, err := mock.TranscribeAudio(context.Background(), nil, cfg)
	require.NoError(t, err)
	assert.Empty(t, text)

	text, err = mock.TranscribeAudio(context.Background(), make([]byte, 64000), cfg)
	require.NoError(t, err)
	assert.Equal(t, "Please take note of this definition.", text)
}
