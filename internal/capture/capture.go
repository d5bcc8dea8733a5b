// Package capture produces PCM16 audio fragments at a fixed slice interval.
package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

var (
	ErrNotOpen     = errors.New("capture device not open")
	ErrAlreadyOpen = errors.New("capture device already open")
	ErrStarted     = errors.New("capture already started")
)

// slicer cuts a continuous PCM stream into slice-sized fragments.
type slicer struct {
	mu      sync.Mutex
	size    int
	pending []byte
	now     func() time.Time
}

func newSlicer(format entities.AudioFormat, slice time.Duration) *slicer {
	size := format.BytesFor(slice)
	if size < format.FrameSize() {
		size = format.FrameSize()
	}
	return &slicer{size: size, now: time.Now}
}

// push appends PCM and returns every complete fragment.
func (s *slicer) push(pcm []byte) []entities.AudioFragment {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, pcm...)
	var out []entities.AudioFragment
	for len(s.pending) >= s.size {
		data := make([]byte, s.size)
		copy(data, s.pending[:s.size])
		s.pending = s.pending[s.size:]
		out = append(out, entities.AudioFragment{Data: data, CapturedAt: s.now()})
	}
	return out
}

// drain returns the partial tail as a final fragment, if any.
func (s *slicer) drain() (entities.AudioFragment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return entities.AudioFragment{}, false
	}
	data := s.pending
	s.pending = nil
	return entities.AudioFragment{Data: data, CapturedAt: s.now()}, true
}
