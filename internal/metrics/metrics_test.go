package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))
	require.NoError(t, m.Register(reg))
}

func TestMetrics_Helpers(t *testing.T) {
	m := New()
	m.Event("kafka-in", "in")
	m.Event("kafka-in", "in")
	m.DecodeFailure("kafka-in")
	m.EncodeFailure("kafka-out")
	m.Restart("amqp-in")
	m.SendFailure("kafka-out")
	m.SetQueueDepth("kafka-in", 7)
	m.Duplicate()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("kafka-in", "in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeFailures.WithLabelValues("kafka-in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EncodeFailures.WithLabelValues("kafka-out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Restarts.WithLabelValues("amqp-in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendFailures.WithLabelValues("kafka-out")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("kafka-in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Duplicates))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Event("x", "in")
		m.DecodeFailure("x")
		m.EncodeFailure("x")
		m.Restart("x")
		m.SendFailure("x")
		m.SetQueueDepth("x", 1)
		m.ObserveReceive("x", 0.1)
		m.Duplicate()
	})
}
