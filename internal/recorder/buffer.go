package recorder

import (
	"time"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

// RetainCount returns K = ceil(overlap / slice), at least 1.
func RetainCount(overlap, slice time.Duration) int {
	if slice <= 0 || overlap <= 0 {
		return 1
	}
	k := int((overlap + slice - 1) / slice)
	if k < 1 {
		k = 1
	}
	return k
}

// ChunkBuffer is the rolling window of fragments awaiting the next tick.
// It is owned by a single goroutine and is not safe for concurrent use.
type ChunkBuffer struct {
	format    entities.AudioFormat
	retain    int
	fragments []entities.AudioFragment
	seq       uint64
	now       func() time.Time
}

// NewChunkBuffer creates a buffer that keeps the last ceil(overlap/slice)
// fragments after every cut.
func NewChunkBuffer(format entities.AudioFormat, overlap, slice time.Duration) *ChunkBuffer {
	return &ChunkBuffer{
		format: format,
		retain: RetainCount(overlap, slice),
		now:    time.Now,
	}
}

// Append adds a fragment in production order.
func (b *ChunkBuffer) Append(f entities.AudioFragment) {
	b.fragments = append(b.fragments, f)
}

// Len returns the number of buffered fragments.
func (b *ChunkBuffer) Len() int { return len(b.fragments) }

// Retain returns K.
func (b *ChunkBuffer) Retain() int { return b.retain }

// Cut materializes every buffered fragment into the next chunk and keeps the
// last K fragments as the overlap for the following chunk. An empty window
// yields no chunk.
func (b *ChunkBuffer) Cut() (*entities.AudioChunk, bool) {
	if len(b.fragments) == 0 {
		return nil, false
	}

	b.seq++
	chunk := &entities.AudioChunk{
		Seq:       b.seq,
		CreatedAt: b.now(),
		Format:    b.format,
		Fragments: make([]entities.AudioFragment, len(b.fragments)),
	}
	copy(chunk.Fragments, b.fragments)

	keep := b.retain
	if keep > len(b.fragments) {
		keep = len(b.fragments)
	}
	tail := make([]entities.AudioFragment, keep, keep+8)
	copy(tail, b.fragments[len(b.fragments)-keep:])
	b.fragments = tail

	return chunk, true
}

// Reset drops all fragments and restarts sequence numbering.
func (b *ChunkBuffer) Reset() {
	b.fragments = nil
	b.seq = 0
}
