// Package metrics registers the engine's Prometheus instrumentation,
// grounded on the teacher's metrics package (promauto counters/gauges/
// histograms) and the pack's jpeg-pool metrics block (bucketed latency
// histograms, status-labeled counters).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesCapturedTotal counts successful captures from the video source.
	FramesCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_inference_frames_captured_total",
		Help: "Total frames successfully captured from the video source.",
	})

	// FramesDroppedTotal counts transient drops from the video source.
	FramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_inference_frames_dropped_total",
		Help: "Total frames dropped by the video source as momentarily unready.",
	})

	// SequenceGauge reports the sequence number of the most recently
	// processed frame, whether or not its metadata publish succeeded.
	SequenceGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_inference_sequence",
		Help: "Sequence number of the most recently processed frame.",
	})

	// DLPUWaitSeconds histograms each DLPU slot wait.
	DLPUWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edge_inference_dlpu_wait_seconds",
		Help:    "Time spent waiting for the DLPU time slot.",
		Buckets: []float64{0, 0.01, 0.05, 0.1, 0.2, 0.5, 0.8, 1.0},
	})

	// InferenceLatencyMs histograms each inference call's duration.
	InferenceLatencyMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edge_inference_inference_latency_ms",
		Help:    "Inference call latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800},
	})

	// InferenceFailuresTotal counts inference runtime failures.
	InferenceFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_inference_inference_failures_total",
		Help: "Total inference calls that failed at runtime.",
	})

	// ModuleErrorsTotal counts module.Process returning Error, by module name.
	ModuleErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_inference_module_errors_total",
		Help: "Total module process failures, by module.",
	}, []string{"module"})

	// MetadataPublishedTotal counts successful metadata publishes.
	MetadataPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_inference_metadata_published_total",
		Help: "Total metadata messages published.",
	})

	// PublishFailuresTotal counts bus publish failures, by topic.
	PublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_inference_publish_failures_total",
		Help: "Total bus publish failures, by topic.",
	}, []string{"topic"})

	// FrameRequestsReceivedTotal counts inbound frame_request messages.
	FrameRequestsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_inference_frame_requests_received_total",
		Help: "Total inbound frame requests received.",
	})

	// FrameRequestsThrottledTotal counts requests dropped by the rate limit.
	FrameRequestsThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_inference_frame_requests_throttled_total",
		Help: "Total inbound frame requests dropped by the rate limiter.",
	})

	// FramesSentTotal counts successful on-demand frame emissions.
	FramesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_inference_frames_sent_total",
		Help: "Total on-demand JPEG frames published.",
	})

	// JPEGEncodeLatencyMs histograms JPEG encode duration.
	JPEGEncodeLatencyMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edge_inference_jpeg_encode_latency_ms",
		Help:    "JPEG encode latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
	})
)
