package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

var mono16k = entities.AudioFormat{Encoding: entities.EncodingLinear16, SampleRate: 16000, Channels: 1}

func pcmRamp(samples int, start int16) []byte {
	out := make([]byte, 2*samples)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(start+int16(i)))
	}
	return out
}

func TestEncodeChunk_IsIndependentlyDecodable(t *testing.T) {
	chunk := &entities.AudioChunk{
		Seq:       3,
		CreatedAt: time.Now(),
		Format:    mono16k,
		Fragments: []entities.AudioFragment{
			{Data: pcmRamp(160, 0)},
			{Data: pcmRamp(160, 160)},
			{Data: pcmRamp(160, -500)},
		},
	}

	data, err := EncodeChunk(chunk)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	pcm, format, err := DecodePCM(data)
	require.NoError(t, err)
	assert.Equal(t, mono16k, format)
	assert.Equal(t, chunk.PCM(), pcm)
}

func TestEncodeChunk_Empty(t *testing.T) {
	_, err := EncodeChunk(&entities.AudioChunk{Format: mono16k})
	assert.ErrorIs(t, err, entities.ErrEmptyChunk)

	_, err = EncodeChunk(nil)
	assert.ErrorIs(t, err, entities.ErrEmptyChunk)
}

func TestEncodePCM_Stereo(t *testing.T) {
	stereo := entities.AudioFormat{Encoding: entities.EncodingLinear16, SampleRate: 48000, Channels: 2}
	in := pcmRamp(480, 100)

	data, err := EncodePCM(in, stereo)
	require.NoError(t, err)

	pcm, format, err := DecodePCM(data)
	require.NoError(t, err)
	assert.Equal(t, 2, format.Channels)
	assert.Equal(t, 48000, format.SampleRate)
	assert.Equal(t, in, pcm)
}

func TestDecodePCM_Invalid(t *testing.T) {
	_, _, err := DecodePCM([]byte("definitely not a wav file, just some bytes"))
	assert.ErrorIs(t, err, ErrInvalidWAV)
}

func TestIntBufferRoundTrip(t *testing.T) {
	in := pcmRamp(32, -16)
	buf := IntBuffer(append(in, 0x7f), mono16k)

	assert.Len(t, buf.Data, 32)
	assert.Equal(t, -16, buf.Data[0])
	assert.Equal(t, in, PCMBytes(buf.Data))
}

func TestWriteSeeker(t *testing.T) {
	ws := &writeSeeker{}
	_, err := ws.Write([]byte("hello world"))
	require.NoError(t, err)

	_, err = ws.Seek(0, 0)
	require.NoError(t, err)
	_, err = ws.Write([]byte("HELLO"))
	require.NoError(t, err)

	_, err = ws.Seek(0, 2)
	require.NoError(t, err)
	_, err = ws.Write([]byte("!"))
	require.NoError(t, err)

	assert.Equal(t, "HELLO world!", string(ws.buf))
}
