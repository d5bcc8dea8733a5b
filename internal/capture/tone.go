package capture

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

// Tone is a synthetic capture device producing a sine wave in real time.
// It stands in for a microphone on headless hosts and in tests.
type Tone struct {
	frequency float64
	amplitude float64
	logger    *zap.Logger

	mu      sync.Mutex
	format  entities.AudioFormat
	opened  bool
	started bool
	frame   int64
	stop    chan struct{}
	done    chan struct{}
}

// NewTone creates a tone generator at the given frequency in Hz.
func NewTone(frequency float64, logger *zap.Logger) *Tone {
	return &Tone{frequency: frequency, amplitude: 0.3, logger: logger}
}

// Open acquires the device for the given format.
func (t *Tone) Open(format entities.AudioFormat) error {
	if err := format.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opened {
		return ErrAlreadyOpen
	}
	t.format = format
	t.opened = true
	t.frame = 0
	return nil
}

// Format returns the format the device was opened with.
func (t *Tone) Format() entities.AudioFormat {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format
}

// Start begins producing one fragment per slice. The channel is closed by Close.
func (t *Tone) Start(slice time.Duration) (<-chan entities.AudioFragment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.opened {
		return nil, ErrNotOpen
	}
	if t.started {
		return nil, ErrStarted
	}
	t.started = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	out := make(chan entities.AudioFragment, 16)
	go t.produce(slice, out)

	t.logger.Debug("Tone capture started",
		zap.Float64("frequency", t.frequency),
		zap.Duration("slice", slice),
		zap.Int("sampleRate", t.format.SampleRate))
	return out, nil
}

func (t *Tone) produce(slice time.Duration, out chan<- entities.AudioFragment) {
	defer close(t.done)
	defer close(out)

	size := t.format.BytesFor(slice)
	ticker := time.NewTicker(slice)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			frag := entities.AudioFragment{Data: t.samples(size), CapturedAt: now}
			select {
			case out <- frag:
			case <-t.stop:
				return
			}
		}
	}
}

// samples renders the next size bytes of the sine wave.
func (t *Tone) samples(size int) []byte {
	frameSize := t.format.FrameSize()
	data := make([]byte, size-size%frameSize)
	for off := 0; off < len(data); off += frameSize {
		phase := 2 * math.Pi * t.frequency * float64(t.frame) / float64(t.format.SampleRate)
		v := int16(t.amplitude * math.MaxInt16 * math.Sin(phase))
		for ch := 0; ch < t.format.Channels; ch++ {
			binary.LittleEndian.PutUint16(data[off+2*ch:], uint16(v))
		}
		t.frame++
	}
	return data
}

// Close stops production and releases the device.
func (t *Tone) Close() error {
	t.mu.Lock()
	if !t.opened {
		t.mu.Unlock()
		return nil
	}
	started := t.started
	stop, done := t.stop, t.done
	t.opened = false
	t.started = false
	t.mu.Unlock()

	if started {
		close(stop)
		<-done
	}
	return nil
}
