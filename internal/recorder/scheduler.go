package recorder

import (
	"context"
	"sync"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

// DispatchFunc handles one chunk. It runs on its own goroutine.
type DispatchFunc func(chunk *entities.AudioChunk)

// Scheduler cuts the rolling window on every tick and dispatches the chunk
// without waiting for earlier dispatches to finish.
type Scheduler struct {
	buffer   *ChunkBuffer
	dispatch DispatchFunc
	inflight sync.WaitGroup
}

// NewScheduler creates a scheduler over buffer.
func NewScheduler(buffer *ChunkBuffer, dispatch DispatchFunc) *Scheduler {
	return &Scheduler{buffer: buffer, dispatch: dispatch}
}

// Tick cuts a chunk and dispatches it asynchronously. It reports whether a
// chunk was dispatched; an empty window is a no-op.
func (s *Scheduler) Tick() bool {
	chunk, ok := s.buffer.Cut()
	if !ok {
		return false
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.dispatch(chunk)
	}()
	return true
}

// Flush forces the final tick on stop. Same contract as Tick.
func (s *Scheduler) Flush() bool {
	return s.Tick()
}

// Wait blocks until every dispatched chunk has been handled or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
