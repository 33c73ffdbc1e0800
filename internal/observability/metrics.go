package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leap",
			Subsystem: "frame",
			Name:      "frames_total",
			Help:      "Frames carried over the plugin stdio stream.",
		},
		[]string{"direction"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leap",
			Subsystem: "frame",
			Name:      "payload_bytes_total",
			Help:      "Frame payload bytes carried over the plugin stdio stream.",
		},
		[]string{"direction"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leap",
			Subsystem: "frame",
			Name:      "errors_total",
			Help:      "Inbound frames dropped, by reason.",
		},
		[]string{"reason"},
	)
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leap",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Requests sent to host pumps.",
		},
		[]string{"pump"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leap",
			Subsystem: "session",
			Name:      "commands_total",
			Help:      "Inbound commands dispatched.",
		},
		[]string{"command", "handled"},
	)
	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "leap",
			Subsystem: "session",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply carrying their reqid.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesTotal, frameBytes, frameErrors, requestsTotal, commandsTotal, pendingRequests)
	})
}

func RecordFrame(direction string, size int) {
	RegisterMetrics()
	framesTotal.WithLabelValues(direction).Inc()
	frameBytes.WithLabelValues(direction).Add(float64(size))
}

func RecordFrameError(reason string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(reason).Inc()
}

func RecordRequest(pump string) {
	RegisterMetrics()
	requestsTotal.WithLabelValues(pump).Inc()
}

func RecordCommand(command string, handled bool) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(command, strconv.FormatBool(handled)).Inc()
}

func SetPendingRequests(n int) {
	RegisterMetrics()
	pendingRequests.Set(float64(n))
}
