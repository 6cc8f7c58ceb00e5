package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhotosIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventpix",
		Name:      "photos_ingested_total",
		Help:      "Total number of photos accepted for an event",
	}, []string{"event_code"})

	IngestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventpix",
		Name:      "ingest_failures_total",
		Help:      "Total number of failed ingestions by failure class",
	}, []string{"reason"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventpix",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected by the worker",
	}, []string{"event_code"})

	DetectionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventpix",
		Name:      "detection_failures_total",
		Help:      "Total number of photos the worker could not process",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventpix",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventpix",
		Name:      "queue_depth",
		Help:      "Number of pending detect tasks in the queue",
	})

	OrphanBlobsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventpix",
		Name:      "orphan_blobs_deleted_total",
		Help:      "Blobs without a matching image record removed by the reconciler",
	})

	OrphanRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventpix",
		Name:      "orphan_records_total",
		Help:      "Image records whose blob is missing, found by the reconciler",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventpix",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventpix",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
