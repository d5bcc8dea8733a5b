package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

func TestScheduler_EmptyTickDispatchesNothing(t *testing.T) {
	dispatched := make(chan *entities.AudioChunk, 1)
	s := NewScheduler(NewChunkBuffer(mono16k, time.Second, 500*time.Millisecond), func(c *entities.AudioChunk) {
		dispatched <- c
	})

	assert.False(t, s.Tick())
	assert.False(t, s.Flush())
	require.NoError(t, s.Wait(context.Background()))
	assert.Empty(t, dispatched)
}

func TestScheduler_OverlappingDispatches(t *testing.T) {
	release := make(chan struct{})
	started := make(chan uint64, 4)

	buffer := NewChunkBuffer(mono16k, 500*time.Millisecond, 500*time.Millisecond)
	s := NewScheduler(buffer, func(c *entities.AudioChunk) {
		started <- c.Seq
		<-release
	})

	buffer.Append(frag(1))
	require.True(t, s.Tick())
	buffer.Append(frag(2))
	require.True(t, s.Tick())

	// The second dispatch starts while the first is still outstanding.
	got := map[uint64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case seq := <-started:
			got[seq] = true
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch did not start")
		}
	}
	assert.Equal(t, map[uint64]bool{1: true, 2: true}, got)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.Wait(context.Background()))
}
