// Package metrics exposes the daemon's Prometheus collectors. All
// collectors register on the default registry; the server mounts them
// at GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsSubmitted counts accepted submissions by job type and source.
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yume_jobs_submitted_total",
			Help: "Total number of jobs accepted into the queue",
		},
		[]string{"type", "source"},
	)

	// JobsCompleted counts terminal jobs by type and terminal state.
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yume_jobs_terminal_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"type", "state"},
	)

	// JobDuration observes wall time from dequeue to terminal.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yume_job_duration_seconds",
			Help:    "Duration of job execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// QueueDepth tracks the number of queued jobs.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yume_queue_depth",
			Help: "Current number of queued jobs",
		},
	)

	// WSClients tracks connected WebSocket sessions.
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yume_ws_clients",
			Help: "Number of connected WebSocket clients",
		},
	)

	// DreamTicks counts dream iterations by outcome.
	DreamTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yume_dream_ticks_total",
			Help: "Total number of dream ticks",
		},
		[]string{"outcome"},
	)

	// UploadsStored counts fileRef uploads accepted.
	UploadsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yume_uploads_stored_total",
			Help: "Total number of temporary uploads stored",
		},
	)

	// EventsDropped counts pool bus events dropped on overflow.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yume_events_dropped_total",
			Help: "Total number of pool events dropped because the bus was full",
		},
		[]string{"kind"},
	)

	// ModeSwitches counts mode switches by outcome.
	ModeSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yume_mode_switches_total",
			Help: "Total number of mode switch executions",
		},
		[]string{"outcome"},
	)

	// BroadcastDrops counts frames evicted from session send queues.
	BroadcastDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yume_broadcast_drops_total",
			Help: "Total number of frames dropped from slow session send queues",
		},
	)

	// RefEntries tracks live temporary upload refs awaiting Take or sweep.
	RefEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yume_fileref_entries",
			Help: "Current number of unexpired temporary upload refs",
		},
	)

	// VRAMUsed tracks bytes attributed to loaded models.
	VRAMUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yume_vram_used_bytes",
			Help: "Bytes of device memory attributed to loaded models",
		},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
