// Package metrics holds the Prometheus collectors for the session engine
// and the publish layer.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ooui",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently connected.",
		},
	)
	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ooui",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Sessions started since process start.",
		},
	)
	framesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ooui",
			Subsystem: "session",
			Name:      "frames_sent_total",
			Help:      "Batched frames transmitted to clients.",
		},
	)
	messagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ooui",
			Subsystem: "session",
			Name:      "messages_sent_total",
			Help:      "Messages transmitted to clients, closure expansions included.",
		},
	)
	bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ooui",
			Subsystem: "session",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes transmitted to clients.",
		},
	)
	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ooui",
			Subsystem: "session",
			Name:      "batch_messages",
			Help:      "Messages per transmitted frame.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ooui",
			Subsystem: "session",
			Name:      "events_received_total",
			Help:      "Inbound client frames by outcome.",
		},
		[]string{"outcome"},
	)
	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ooui",
			Subsystem: "session",
			Name:      "messages_dropped_total",
			Help:      "Outgoing messages dropped during closure expansion.",
		},
		[]string{"reason"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ooui",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests served by the publish registry.",
		},
		[]string{"kind", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ooui",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Publish registry request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsActive, sessionsTotal,
			framesSent, messagesSent, bytesSent, batchSize,
			eventsReceived, messagesDropped,
			httpRequests, httpDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func SessionOpened() {
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

func SessionClosed() {
	sessionsActive.Dec()
}

func RecordFrame(messages, bytes int) {
	framesSent.Inc()
	messagesSent.Add(float64(messages))
	bytesSent.Add(float64(bytes))
	batchSize.Observe(float64(messages))
}

// RecordEvent counts an inbound frame. Outcome is one of dispatched,
// unrouted, malformed or failed.
func RecordEvent(outcome string) {
	eventsReceived.WithLabelValues(outcome).Inc()
}

func RecordDropped(reason string) {
	messagesDropped.WithLabelValues(reason).Inc()
}

func RecordHTTPRequest(kind string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
