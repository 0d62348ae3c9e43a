package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CanvasMetrics observes the collaboration and media pipelines.
//
// A nil *CanvasMetrics is valid and records nothing, so callers never need
// to branch on whether metrics are enabled:
//
//	m := metrics.NewCanvasMetrics() // nil when InitRegistry was not called
//	m.RecordOperation("node_move", "applied", elapsed)
type CanvasMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	broadcasts        *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	activeRooms       prometheus.Gauge
	undoRedo          *prometheus.CounterVec
	uploads           *prometheus.CounterVec
	uploadBytes       prometheus.Counter
	thumbnails        *prometheus.CounterVec
	transcodeJobs     *prometheus.CounterVec
	transcodeQueue    prometheus.Gauge
}

// NewCanvasMetrics creates the Prometheus-backed metrics instance, or nil
// when metrics are disabled.
func NewCanvasMetrics() *CanvasMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &CanvasMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvasd_operations_total",
				Help: "Canvas operations processed, by operation type and outcome",
			},
			[]string{"type", "outcome"}, // outcome: applied, rejected, failed
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canvasd_operation_duration_seconds",
				Help:    "Time spent executing a canvas operation, including persistence",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		broadcasts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvasd_broadcast_messages_total",
				Help: "Messages fanned out to room sockets, by event name",
			},
			[]string{"event"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "canvasd_active_sessions",
				Help: "Currently connected websocket sessions",
			},
		),
		activeRooms: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "canvasd_active_rooms",
				Help: "Canvas rooms with at least one joined session",
			},
		),
		undoRedo: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvasd_undo_redo_total",
				Help: "Undo and redo requests, by direction and outcome",
			},
			[]string{"direction", "outcome"}, // direction: undo, redo
		),
		uploads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvasd_uploads_total",
				Help: "Media uploads accepted, by kind",
			},
			[]string{"kind"}, // image, video
		),
		uploadBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "canvasd_upload_bytes_total",
				Help: "Total bytes of uploaded media written to disk",
			},
		),
		thumbnails: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvasd_thumbnails_generated_total",
				Help: "Thumbnail files generated, by outcome",
			},
			[]string{"outcome"}, // generated, skipped, failed
		),
		transcodeJobs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvasd_transcode_jobs_total",
				Help: "Video transcode jobs, by outcome",
			},
			[]string{"outcome"}, // completed, failed, cancelled
		),
		transcodeQueue: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "canvasd_transcode_queue_depth",
				Help: "Jobs waiting in the video transcode queue",
			},
		),
	}
}

// RecordOperation records one processed operation.
func (m *CanvasMetrics) RecordOperation(opType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(opType, outcome).Inc()
	if outcome == "applied" {
		m.operationDuration.WithLabelValues(opType).Observe(duration.Seconds())
	}
}

// RecordBroadcast records messages fanned out to a room.
func (m *CanvasMetrics) RecordBroadcast(event string, recipients int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(event).Add(float64(recipients))
}

// SetActiveSessions sets the connected session gauge.
func (m *CanvasMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// SetActiveRooms sets the live room gauge.
func (m *CanvasMetrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

// RecordUndoRedo records an undo or redo request.
func (m *CanvasMetrics) RecordUndoRedo(direction, outcome string) {
	if m == nil {
		return
	}
	m.undoRedo.WithLabelValues(direction, outcome).Inc()
}

// RecordUpload records one accepted upload.
func (m *CanvasMetrics) RecordUpload(kind string, bytes int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(kind).Inc()
	m.uploadBytes.Add(float64(bytes))
}

// RecordThumbnail records one thumbnail generation attempt.
func (m *CanvasMetrics) RecordThumbnail(outcome string) {
	if m == nil {
		return
	}
	m.thumbnails.WithLabelValues(outcome).Inc()
}

// RecordTranscode records one finished transcode job.
func (m *CanvasMetrics) RecordTranscode(outcome string) {
	if m == nil {
		return
	}
	m.transcodeJobs.WithLabelValues(outcome).Inc()
}

// SetTranscodeQueueDepth sets the queue depth gauge.
func (m *CanvasMetrics) SetTranscodeQueueDepth(n int) {
	if m == nil {
		return
	}
	m.transcodeQueue.Set(float64(n))
}
