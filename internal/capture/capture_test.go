package capture

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

var mono16k = entities.AudioFormat{Encoding: entities.EncodingLinear16, SampleRate: 16000, Channels: 1}

func TestSlicer_CutsFixedSizeFragments(t *testing.T) {
	s := newSlicer(mono16k, 10*time.Millisecond) // 320 bytes

	assert.Empty(t, s.push(make([]byte, 200)))
	frags := s.push(make([]byte, 500))
	require.Len(t, frags, 2)
	assert.Len(t, frags[0].Data, 320)
	assert.Len(t, frags[1].Data, 320)

	tail, ok := s.drain()
	require.True(t, ok)
	assert.Len(t, tail.Data, 60)

	_, ok = s.drain()
	assert.False(t, ok)
}

func TestTone_ProducesSlicedFragments(t *testing.T) {
	tone := NewTone(440, zaptest.NewLogger(t))

	_, err := tone.Start(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, tone.Open(mono16k))
	assert.ErrorIs(t, tone.Open(mono16k), ErrAlreadyOpen)

	frags, err := tone.Start(10 * time.Millisecond)
	require.NoError(t, err)

	var got []entities.AudioFragment
	for len(got) < 3 {
		select {
		case f := <-frags:
			got = append(got, f)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for fragments")
		}
	}
	for _, f := range got {
		assert.Len(t, f.Data, mono16k.BytesFor(10*time.Millisecond))
	}

	// The wave is continuous across fragments and not silent.
	nonZero := false
	for i := 0; i < len(got[0].Data); i += 2 {
		if int16(binary.LittleEndian.Uint16(got[0].Data[i:])) != 0 {
			nonZero = true
			break
		}
	}
	assert.True(t, nonZero)

	require.NoError(t, tone.Close())
	for range frags {
		// drain until closed
	}
	require.NoError(t, tone.Close())
}

func TestTone_StereoDuplicatesSamples(t *testing.T) {
	stereo := entities.AudioFormat{Encoding: entities.EncodingLinear16, SampleRate: 8000, Channels: 2}
	tone := NewTone(440, zaptest.NewLogger(t))
	require.NoError(t, tone.Open(stereo))
	defer tone.Close()

	data := tone.samples(stereo.BytesFor(5 * time.Millisecond))
	require.Len(t, data, 40*4)
	for off := 0; off < len(data); off += 4 {
		assert.Equal(t, data[off:off+2], data[off+2:off+4])
	}
}

func TestTone_RejectsInvalidFormat(t *testing.T) {
	tone := NewTone(440, zaptest.NewLogger(t))
	err := tone.Open(entities.AudioFormat{Encoding: "opus", SampleRate: 16000, Channels: 1})
	assert.Error(t, err)
}
