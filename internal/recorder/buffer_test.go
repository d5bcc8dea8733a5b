package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

var mono16k = entities.AudioFormat{Encoding: entities.EncodingLinear16, SampleRate: 16000, Channels: 1}

func frag(b byte) entities.AudioFragment {
	return entities.AudioFragment{Data: []byte{b, b}, CapturedAt: time.Now()}
}

func firstBytes(frags []entities.AudioFragment) []byte {
	out := make([]byte, len(frags))
	for i, f := range frags {
		out[i] = f.Data[0]
	}
	return out
}

func TestRetainCount(t *testing.T) {
	tests := []struct {
		overlap, slice time.Duration
		want           int
	}{
		{2 * time.Second, 500 * time.Millisecond, 4},
		{2 * time.Second, 250 * time.Millisecond, 8},
		{2 * time.Second, 300 * time.Millisecond, 7},
		{100 * time.Millisecond, 250 * time.Millisecond, 1},
		{0, 250 * time.Millisecond, 1},
		{time.Second, 0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetainCount(tt.overlap, tt.slice), "overlap=%s slice=%s", tt.overlap, tt.slice)
	}
}

func TestChunkBuffer_EmptyWindowIsNoop(t *testing.T) {
	b := NewChunkBuffer(mono16k, time.Second, 500*time.Millisecond)
	chunk, ok := b.Cut()
	assert.False(t, ok)
	assert.Nil(t, chunk)
}

func TestChunkBuffer_CutRetainsTail(t *testing.T) {
	b := NewChunkBuffer(mono16k, time.Second, 500*time.Millisecond) // K = 2
	for i := byte(1); i <= 5; i++ {
		b.Append(frag(i))
	}

	chunk, ok := b.Cut()
	require.True(t, ok)
	assert.Equal(t, uint64(1), chunk.Seq)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, firstBytes(chunk.Fragments))
	assert.Equal(t, mono16k, chunk.Format)
	assert.Equal(t, 2, b.Len())

	b.Append(frag(6))
	chunk, ok = b.Cut()
	require.True(t, ok)
	assert.Equal(t, uint64(2), chunk.Seq)
	assert.Equal(t, []byte{4, 5, 6}, firstBytes(chunk.Fragments))

	// With no new audio the retained overlap is still re-sent.
	chunk, ok = b.Cut()
	require.True(t, ok)
	assert.Equal(t, uint64(3), chunk.Seq)
	assert.Equal(t, []byte{5, 6}, firstBytes(chunk.Fragments))
}

func TestChunkBuffer_RetainsAllWhenFewerThanK(t *testing.T) {
	b := NewChunkBuffer(mono16k, 2*time.Second, 250*time.Millisecond) // K = 8
	b.Append(frag(1))
	b.Append(frag(2))

	_, ok := b.Cut()
	require.True(t, ok)
	assert.Equal(t, 2, b.Len())
}

func TestChunkBuffer_ChunkIsIndependentOfWindow(t *testing.T) {
	b := NewChunkBuffer(mono16k, 500*time.Millisecond, 500*time.Millisecond)
	b.Append(frag(1))
	b.Append(frag(2))

	chunk, _ := b.Cut()
	b.Append(frag(3))
	b.Cut()

	assert.Equal(t, []byte{1, 2}, firstBytes(chunk.Fragments))
}

func TestChunkBuffer_WindowBounds(t *testing.T) {
	slice := 250 * time.Millisecond
	overlap := 2 * time.Second
	period := 10 * time.Second
	perTick := int(period / slice)

	b := NewChunkBuffer(mono16k, overlap, slice)
	k := b.Retain()

	for tick := 0; tick < 5; tick++ {
		for i := 0; i < perTick; i++ {
			b.Append(frag(byte(i)))
		}
		windowDur := time.Duration(b.Len()) * slice
		assert.LessOrEqual(t, windowDur, time.Duration(k)*slice+period)

		chunk, ok := b.Cut()
		require.True(t, ok)
		if tick > 0 {
			assert.Len(t, chunk.Fragments, k+perTick)
		}
		assert.GreaterOrEqual(t, time.Duration(b.Len())*slice, overlap)
	}

	b.Reset()
	assert.Equal(t, 0, b.Len())
	b.Append(frag(1))
	chunk, _ := b.Cut()
	assert.Equal(t, uint64(1), chunk.Seq)
}
