package entities

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EncodingLinear16 is 16-bit signed little-endian PCM, the only capture
// encoding produced by the recorder.
const EncodingLinear16 = "linear16"

// AudioFormat describes the raw PCM carried by fragments and chunks.
type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Validate checks the format is one the pipeline can frame.
func (f AudioFormat) Validate() error {
	if !strings.EqualFold(f.Encoding, EncodingLinear16) {
		return fmt.Errorf("unsupported encoding %q", f.Encoding)
	}
	if f.SampleRate < 8000 || f.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000, got %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", f.Channels)
	}
	return nil
}

// FrameSize is the number of bytes in one sample frame (all channels).
func (f AudioFormat) FrameSize() int {
	return 2 * f.Channels
}

// BytesPerSecond returns the PCM byte rate.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// BytesFor returns the frame-aligned byte count covering d.
func (f AudioFormat) BytesFor(d time.Duration) int {
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return frames * f.FrameSize()
}

// AudioFragment is the audio captured during one slice interval.
// Fragments are immutable once produced.
type AudioFragment struct {
	Data       []byte
	CapturedAt time.Time
}

var ErrEmptyChunk = errors.New("audio chunk has no fragments")

// AudioChunk is the unit submitted for re-transcription: the contents of the
// rolling window at a tick, in arrival order.
type AudioChunk struct {
	Seq       uint64
	CreatedAt time.Time
	Format    AudioFormat
	Fragments []AudioFragment
}

// Len returns the total PCM byte length of the chunk.
func (c *AudioChunk) Len() int {
	n := 0
	for _, f := range c.Fragments {
		n += len(f.Data)
	}
	return n
}

// PCM concatenates the fragments into one contiguous buffer.
func (c *AudioChunk) PCM() []byte {
	out := make([]byte, 0, c.Len())
	for _, f := range c.Fragments {
		out = append(out, f.Data...)
	}
	return out
}

// Duration is the playback length of the chunk.
func (c *AudioChunk) Duration() time.Duration {
	bps := c.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(c.Len()) * int64(time.Second) / int64(bps))
}
