// Package metrics exposes Prometheus instruments for the tracking pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesMapped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexpuppet_frames_mapped_total",
			Help: "Frames mapped to a character",
		},
	)

	FramesNoFace = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexpuppet_frames_no_face_total",
			Help: "Frames received without a detected face",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexpuppet_frames_dropped_total",
			Help: "Frames dropped because the session was still mapping",
		},
	)

	MappingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortexpuppet_mapping_latency_seconds",
			Help:    "Time to map one frame",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexpuppet_active_sessions",
			Help: "Number of open tracking sessions",
		},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexpuppet_sink_errors_total",
			Help: "Failed result deliveries by sink",
		},
		[]string{"sink"},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexpuppet_ws_messages_total",
			Help: "Websocket messages received by type",
		},
		[]string{"type"},
	)
)
