package recorder

import (
	"strings"
	"sync"
	"time"
)

// Source identifies which path produced a transcript segment.
type Source string

const (
	SourceChunk Source = "chunk"
	SourceLive  Source = "live"
)

// Segment is one appended piece of transcript text.
type Segment struct {
	Source Source
	Seq    uint64
	Text   string
	At     time.Time
}

// Transcript accumulates segments in arrival order. Segments are never
// edited; only Clear removes them.
type Transcript struct {
	mu       sync.RWMutex
	segments []Segment
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds text after trimming it. Empty text is ignored.
func (t *Transcript) Append(source Source, seq uint64, text string) (Segment, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Segment{}, false
	}

	seg := Segment{Source: source, Seq: seq, Text: text, At: time.Now()}
	t.mu.Lock()
	t.segments = append(t.segments, seg)
	t.mu.Unlock()
	return seg, true
}

// Text joins all segments with a single space.
func (t *Transcript) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	parts := make([]string, len(t.segments))
	for i, s := range t.segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// Segments returns a copy of the segments in arrival order.
func (t *Transcript) Segments() []Segment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Len returns the number of segments.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.segments)
}

// Clear resets the transcript to empty.
func (t *Transcript) Clear() {
	t.mu.Lock()
	t.segments = nil
	t.mu.Unlock()
}
