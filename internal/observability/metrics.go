package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchtrack",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"stream_id"})

	FramesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchtrack",
		Name:      "frames_ingested_total",
		Help:      "Frames extracted, stored and queued by the ingestor",
	}, []string{"stream_id"})

	PlayersDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchtrack",
		Name:      "players_detected_total",
		Help:      "Total number of classified players, by team",
	}, []string{"stream_id", "team"})

	EmptyFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchtrack",
		Name:      "empty_frames_total",
		Help:      "Frames that produced no classification (fewer than two detections)",
	}, []string{"stream_id"})

	NewTracks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchtrack",
		Name:      "tracks_created_total",
		Help:      "Track identities created",
	}, []string{"stream_id"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pitchtrack",
		Name:      "stage_duration_seconds",
		Help:      "Duration of per-frame analysis stages",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"stage"})

	FrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchtrack",
		Name:      "frame_errors_total",
		Help:      "Frames skipped because of a processing error",
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pitchtrack",
		Name:      "queue_depth",
		Help:      "Number of frame tasks buffered for per-stream workers",
	})

	StreamBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pitchtrack",
		Name:      "frames_backlog",
		Help:      "Frame tasks waiting in the FRAMES stream",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pitchtrack",
		Name:      "active_streams",
		Help:      "Number of streams with live analysis state",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pitchtrack",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pitchtrack",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
