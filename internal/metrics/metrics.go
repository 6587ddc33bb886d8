// Package metrics holds the Prometheus collectors shared by every bridge.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "brokerbridge"

type Metrics struct {
	Events         *prometheus.CounterVec
	DecodeFailures *prometheus.CounterVec
	EncodeFailures *prometheus.CounterVec
	Restarts       *prometheus.CounterVec
	SendFailures   *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec
	ReceiveSeconds *prometheus.HistogramVec
	Duplicates     prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "events_total",
			Help: "Events moved through a bridge.",
		}, []string{"bridge", "direction"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "decode_failures_total",
			Help: "Messages an input bridge could not fully decode.",
		}, []string{"bridge"}),
		EncodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "encode_failures_total",
			Help: "Events an output bridge skipped because they could not be encoded.",
		}, []string{"bridge"}),
		Restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "restarts_total",
			Help: "Broker client restarts after a connection-level failure.",
		}, []string{"bridge"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "send_failures_total",
			Help: "Abandoned sends on output bridges.",
		}, []string{"bridge"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "queue_depth",
			Help: "Items waiting in an input bridge queue.",
		}, []string{"bridge"}),
		ReceiveSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "receive_seconds",
			Help:    "Time spent handling one event in an output bridge.",
			Buckets: prometheus.DefBuckets,
		}, []string{"bridge"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "duplicates_total",
			Help: "Events dropped by the router because their id was already seen.",
		}),
	}
}

// Register adds every collector to reg. Collectors already registered are
// not treated as an error.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Events, m.DecodeFailures, m.EncodeFailures, m.Restarts, m.SendFailures, m.QueueDepth, m.ReceiveSeconds, m.Duplicates} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// Nil-safe helpers so bridges built without metrics still work.

func (m *Metrics) Event(bridge, direction string) {
	if m != nil {
		m.Events.WithLabelValues(bridge, direction).Inc()
	}
}

func (m *Metrics) DecodeFailure(bridge string) {
	if m != nil {
		m.DecodeFailures.WithLabelValues(bridge).Inc()
	}
}

func (m *Metrics) EncodeFailure(bridge string) {
	if m != nil {
		m.EncodeFailures.WithLabelValues(bridge).Inc()
	}
}

func (m *Metrics) Restart(bridge string) {
	if m != nil {
		m.Restarts.WithLabelValues(bridge).Inc()
	}
}

func (m *Metrics) SendFailure(bridge string) {
	if m != nil {
		m.SendFailures.WithLabelValues(bridge).Inc()
	}
}

func (m *Metrics) SetQueueDepth(bridge string, n int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(bridge).Set(float64(n))
	}
}

func (m *Metrics) ObserveReceive(bridge string, seconds float64) {
	if m != nil {
		m.ReceiveSeconds.WithLabelValues(bridge).Observe(seconds)
	}
}

func (m *Metrics) Duplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}
