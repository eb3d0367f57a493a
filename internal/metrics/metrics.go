package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache origins for LensCacheHits.
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

var (
	LensCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holo_lens_cache_hits_total",
			Help: "Lens outputs served from the build cache",
		},
		[]string{"lens", "origin"},
	)

	LensCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holo_lens_cache_misses_total",
			Help: "Lens cache lookups that found nothing",
		},
		[]string{"lens"},
	)

	LensExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holo_lens_executions_total",
			Help: "Lens runner invocations",
		},
		[]string{"lens"},
	)

	LensFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holo_lens_failures_total",
			Help: "Lens runs that failed or returned malformed output",
		},
		[]string{"lens"},
	)

	LensDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "holo_lens_duration_seconds",
			Help:    "Lens runner duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"lens"},
	)

	ProjectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "holo_projection_duration_seconds",
			Help:    "Branch projection duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"branch"},
	)

	CachePushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holo_cache_push_total",
			Help: "Build cache entries pushed to a remote cache",
		},
		[]string{"remote"},
	)

	CachePulls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holo_cache_pull_total",
			Help: "Build cache entries pulled from a remote cache",
		},
		[]string{"remote"},
	)

	SourceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holo_source_fetch_total",
			Help: "Source fetches by outcome",
		},
		[]string{"source", "outcome"},
	)
)

// WriteTextfile writes the default registry in the node-exporter textfile
// format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
