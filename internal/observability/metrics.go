package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionsharer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sessionsharer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	busMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionsharer",
			Subsystem: "bus",
			Name:      "messages_total",
			Help:      "Sharer messages by direction, kind and outcome.",
		},
		[]string{"channel", "direction", "kind", "outcome"},
	)
	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionsharer",
			Subsystem: "source",
			Name:      "resolutions_total",
			Help:      "Terminal outcomes reached by session id requesters.",
		},
		[]string{"channel", "outcome"},
	)
	resolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sessionsharer",
			Subsystem: "source",
			Name:      "resolve_duration_seconds",
			Help:      "Time from query broadcast to terminal outcome.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"channel", "outcome"},
	)
)

// Message directions and outcomes recorded by RecordMessage.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	OutcomeDelivered     = "delivered"
	OutcomeForeignOrigin = "foreign_origin"
	OutcomeMalformed     = "malformed"
	OutcomeSent          = "sent"
	OutcomeFailed        = "failed"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, busMessages, resolutions, resolveDuration)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMessage(channel, direction, kind, outcome string) {
	RegisterMetrics()
	busMessages.WithLabelValues(channel, direction, kind, outcome).Inc()
}

func RecordResolution(channel, outcome string, duration time.Duration) {
	RegisterMetrics()
	resolutions.WithLabelValues(channel, outcome).Inc()
	resolveDuration.WithLabelValues(channel, outcome).Observe(duration.Seconds())
}
