package recording

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jdsouz07/lecture-ai/domain/entities"
	"github.com/jdsouz07/lecture-ai/internal/audio"
)

var mono16k = entities.AudioFormat{Encoding: entities.EncodingLinear16, SampleRate: 16000, Channels: 1}

func TestStore_CreateAndFinalize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	store, err := NewStore(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	store.now = func() time.Time { return time.UnixMilli(1700000000000) }

	w, err := store.Create("abc", mono16k)
	require.NoError(t, err)
	rec := w.(*Recording)
	assert.Equal(t, filepath.Join(dir, "recording-1700000000000-abc.wav"), rec.Path())

	// Frames with odd lengths split samples across boundaries.
	frames := [][]byte{{1, 2, 3}, {4, 5}, {6}, {7, 8}}
	var want []byte
	for _, f := range frames {
		require.NoError(t, rec.Write(f))
		want = append(want, f...)
	}
	require.NoError(t, rec.Close())
	assert.Equal(t, int64(8), rec.Bytes())

	data, err := os.ReadFile(rec.Path())
	require.NoError(t, err)
	pcm, format, err := audio.DecodePCM(data)
	require.NoError(t, err)
	assert.Equal(t, mono16k, format)
	assert.Equal(t, want, pcm)

	assert.ErrorIs(t, rec.Write([]byte{1, 2}), ErrClosed)
	assert.NoError(t, rec.Close())
}

func TestStore_EmptySessionIsValidFile(t *testing.T) {
	store, err := NewStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	w, err := store.Create("empty", mono16k)
	require.NoError(t, err)
	rec := w.(*Recording)
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(rec.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "RIFF"))
	assert.Equal(t, int64(0), rec.Bytes())
}
