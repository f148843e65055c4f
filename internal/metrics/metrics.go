// Package metrics exposes Prometheus metrics for the history stream engine.
// All metrics are low-cardinality (no entity_id labels).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sweeney/history-stream/internal/history"
)

var (
	// MessagesTotal counts processed update messages by origin.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_stream_messages_total",
			Help: "Total update messages processed",
		},
		[]string{"source"},
	)

	// PointsAppendedTotal counts streamed points merged into the store.
	PointsAppendedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_stream_points_appended_total",
			Help: "Total streamed points merged into the window",
		},
	)

	// PointsEvictedTotal counts points dropped before the purge boundary.
	PointsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_stream_points_evicted_total",
			Help: "Total points evicted from the window",
		},
	)

	// BoundaryPointsTotal counts synthesized boundary points.
	BoundaryPointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_stream_boundary_points_total",
			Help: "Total boundary points synthesized at the window start",
		},
	)

	// QueueCoalescedTotal counts inbound messages merged because the queue was full.
	QueueCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_stream_queue_coalesced_total",
			Help: "Total inbound messages coalesced into earlier ones",
		},
	)

	// Entities is the number of tracked entities.
	Entities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "history_stream_entities",
			Help: "Number of entities in the window",
		},
	)

	// Points is the number of points held across all entities.
	Points = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "history_stream_points",
			Help: "Number of points held in the window",
		},
	)

	// WindowHours is the current look-back window size.
	WindowHours = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "history_stream_window_hours",
			Help: "Configured hours to show",
		},
	)
)

// Source labels for MessagesTotal.
const (
	SourceMQTT = "mqtt"
	SourceGPIO = "gpio"
	SourceTick = "tick"
)

// Observe records the outcome of one Process call.
func Observe(source string, combined history.CombinedHistory, res history.ProcessResult) {
	MessagesTotal.WithLabelValues(source).Inc()
	PointsAppendedTotal.Add(float64(res.Appended))
	PointsEvictedTotal.Add(float64(res.Evicted))
	BoundaryPointsTotal.Add(float64(res.Synthesized))
	Entities.Set(float64(len(combined)))
	Points.Set(float64(combined.PointCount()))
}

// SetWindowHours records the window size.
func SetWindowHours(hours float64) {
	WindowHours.Set(hours)
}

// RecordCoalesced adds n coalesced inbound messages.
func RecordCoalesced(n int) {
	if n > 0 {
		QueueCoalescedTotal.Add(float64(n))
	}
}
