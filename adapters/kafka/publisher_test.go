package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jdsouz07/lecture-ai/domain"
	"github.com/jdsouz07/lecture-ai/internal/metrics"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"disabled", Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", Config{Enabled: true, Brokers: []string{}}},
		{"nil brokers", Config{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, metrics.NewMetrics(prometheus.NewRegistry()), zaptest.NewLogger(t))
			assert.False(t, p.enabled)
			assert.Nil(t, p.writer)
			assert.NoError(t, p.PublishTranscript(context.Background(), domain.TranscriptRecord{SessionID: "s1", Text: "hi"}))
			assert.NoError(t, p.Close())
		})
	}
}

func TestNew_EnabledBuildsWriter(t *testing.T) {
	p := New(Config{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "lecture.transcript"},
		metrics.NewMetrics(prometheus.NewRegistry()), zaptest.NewLogger(t))

	assert.True(t, p.enabled)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "lecture.transcript", w.Topic)
	assert.True(t, w.Async)
}

func TestPublishTranscript_WritesKeyedRecord(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	w := &fakeWriter{}
	p := &Publisher{writer: w, topic: "lecture.transcript", enabled: true, metrics: m, logger: zaptest.NewLogger(t)}

	err := p.PublishTranscript(context.Background(), domain.TranscriptRecord{
		SessionID: "session-1",
		Provider:  "deepgram",
		Text:      "hello class",
		IsFinal:   true,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "session-1", string(msg.Key))

	var record domain.TranscriptRecord
	require.NoError(t, json.Unmarshal(msg.Value, &record))
	assert.Equal(t, eventTypeTranscript, record.EventType)
	assert.Equal(t, "hello class", record.Text)
	assert.False(t, record.Timestamp.IsZero())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishTranscript_WriteError(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := &Publisher{writer: w, topic: "lecture.transcript", enabled: true, metrics: m, logger: zaptest.NewLogger(t)}

	err := p.PublishTranscript(context.Background(), domain.TranscriptRecord{SessionID: "s1", Text: "x"})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("lecture.transcript")))
}

func TestCompletion_RecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := &Publisher{topic: "t", metrics: m, logger: zaptest.NewLogger(t)}

	p.completion([]kafka.Message{{}, {}}, nil)
	p.completion([]kafka.Message{{}}, errors.New("timeout"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("t")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("t")))
}
