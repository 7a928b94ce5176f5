// Package metrics exposes chunk-queue depth and processing-latency
// instruments for backpressure visibility, via prometheus/client_golang.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChunkQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicecore",
		Name:      "chunk_queue_depth",
		Help:      "Number of chunks currently queued awaiting processing.",
	})

	ChunkProcessingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "voicecore",
		Name:      "chunk_processing_seconds",
		Help:      "Wall-clock time to process one chunk through ASR/Segmenter/Embedding/Clusterer.",
		Buckets:   prometheus.DefBuckets,
	})

	SegmentsCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicecore",
		Name:      "segments_committed_total",
		Help:      "Total number of speech and human-voice segments committed.",
	})

	HypothesisVersionCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicecore",
		Name:      "hypothesis_version_current",
		Help:      "Current hypothesis version for the active session.",
	})
)

// Handler returns the Prometheus scrape handler for wiring into an
// http.ServeMux.
func Handler() http.Handler {
	return promhttp.Handler()
}
