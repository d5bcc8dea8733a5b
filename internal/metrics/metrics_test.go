package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_FreshRegistryPerInstance(t *testing.T) {
	// Two instances on separate registries must not collide.
	NewMetrics(prometheus.NewRegistry())
	m := NewMetrics(prometheus.NewRegistry())
	assert.NotNil(t, m)
}

func TestSessionMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSessionStart()
	m.RecordSessionStart()
	m.RecordSessionEnd("finished", 12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
}

func TestFrameMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordFrame(640, true, "")
	m.RecordFrame(640, false, "link_not_ready")
	m.RecordFrame(320, false, "link_not_ready")

	assert.Equal(t, 1600.0, testutil.ToFloat64(m.AudioBytesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesForwarded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("link_not_ready")))
}

func TestKafkaAndLinkMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordKafkaPublish("lecture.transcript", nil)
	m.RecordKafkaPublish("lecture.transcript", errors.New("broker down"))
	m.RecordLinkError("deepgram")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("lecture.transcript")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("lecture.transcript")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkErrors.WithLabelValues("deepgram")))
}
