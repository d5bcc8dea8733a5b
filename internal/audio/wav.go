// Package audio frames raw PCM16 capture data into WAV containers and back.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

const (
	bitDepth      = 16
	wavFormatPCM  = 1
	wavHeaderSize = 44
)

var ErrInvalidWAV = errors.New("invalid wav data")

// EncodeChunk wraps the chunk's PCM in a self-contained WAV object, so every
// chunk decodes on its own regardless of its position in the session.
func EncodeChunk(chunk *entities.AudioChunk) ([]byte, error) {
	if chunk == nil || len(chunk.Fragments) == 0 {
		return nil, entities.ErrEmptyChunk
	}
	return EncodePCM(chunk.PCM(), chunk.Format)
}

// EncodePCM wraps PCM16LE samples in a WAV container.
func EncodePCM(pcm []byte, format entities.AudioFormat) ([]byte, error) {
	ws := &writeSeeker{buf: make([]byte, 0, len(pcm)+wavHeaderSize)}
	enc := wav.NewEncoder(ws, format.SampleRate, bitDepth, format.Channels, wavFormatPCM)
	if err := enc.Write(IntBuffer(pcm, format)); err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return ws.buf, nil
}

// DecodePCM parses a WAV object and returns its PCM16LE payload and format.
func DecodePCM(data []byte) ([]byte, entities.AudioFormat, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, entities.AudioFormat{}, ErrInvalidWAV
	}
	if dec.BitDepth != bitDepth {
		return nil, entities.AudioFormat{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, entities.AudioFormat{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	format := entities.AudioFormat{
		Encoding:   entities.EncodingLinear16,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}
	return PCMBytes(buf.Data), format, nil
}

// IntBuffer converts PCM16LE bytes into a go-audio buffer. A trailing odd
// byte is ignored.
func IntBuffer(pcm []byte, format entities.AudioFormat) *goaudio.IntBuffer {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
}

// PCMBytes converts 16-bit samples back into PCM16LE bytes.
func PCMBytes(samples []int) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
	}
	return out
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes once all samples are written.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, len(w.buf), 2*end)
			copy(grown, w.buf)
			w.buf = grown
		}
		w.buf = w.buf[:end]
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("negative seek position")
	}
	w.pos = int(abs)
	return abs, nil
}
