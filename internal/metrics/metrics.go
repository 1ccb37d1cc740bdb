package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slipmux",
			Subsystem: "link",
			Name:      "frames_received_total",
			Help:      "Frames received and delivered to a consumer.",
		},
		[]string{"type"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slipmux",
			Subsystem: "link",
			Name:      "frames_sent_total",
			Help:      "Frames written to the transport.",
		},
		[]string{"type"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slipmux",
			Subsystem: "link",
			Name:      "frame_errors_total",
			Help:      "Received frames that ended with a wire-level error.",
		},
		[]string{"type", "kind"},
	)
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slipmux",
			Subsystem: "link",
			Name:      "bytes_received_total",
			Help:      "Raw bytes read from the transport.",
		},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slipmux",
			Subsystem: "link",
			Name:      "reconnects_total",
			Help:      "Transport reconnect attempts.",
		},
	)
	diagnosticDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slipmux",
			Subsystem: "link",
			Name:      "diagnostic_bytes_dropped_total",
			Help:      "Diagnostic bytes discarded because no reader kept up.",
		},
	)
)

// RegisterMetrics exposes the link collectors on the default registry. Recorders
// work without it; the counters are only scraped once registered.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesReceived, framesSent, frameErrors, bytesReceived, reconnects, diagnosticDropped)
	})
}

func RecordFrameReceived(frameType string) {
	framesReceived.WithLabelValues(frameType).Inc()
}

func RecordFrameSent(frameType string) {
	framesSent.WithLabelValues(frameType).Inc()
}

func RecordFrameError(frameType, kind string) {
	frameErrors.WithLabelValues(frameType, kind).Inc()
}

func RecordBytesReceived(n int) {
	bytesReceived.Add(float64(n))
}

func RecordReconnect() {
	reconnects.Inc()
}

func RecordDiagnosticDropped() {
	diagnosticDropped.Inc()
}
