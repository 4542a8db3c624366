// Package observability exposes the service's Prometheus metrics.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	resolveDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resolve_duration_seconds",
			Help:    "Duration of resolved-layout reads in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~8s
		},
		[]string{"source", "keyer"},
	)

	resolveRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolve_requests_total",
			Help: "Resolved-layout reads by serving source.",
		},
		[]string{"source"},
	)

	duplicatePointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duplicate_points_detected_total",
			Help: "Points found in coincident groups by resolve computations.",
		},
	)

	layerPoints = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "layer_points",
			Help: "Points currently stored per layer.",
		},
		[]string{"layer"},
	)

	layerStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_store_errors_total",
			Help: "Layer store failures by operation.",
		},
		[]string{"op"},
	)

	layerStoreOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "layer_store_op_duration_seconds",
			Help:    "Duration of layer store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~2s
		},
		[]string{"op"},
	)

	hotnessTrackedLayers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotness_tracked_layers",
			Help: "Layers currently carrying a hotness score.",
		},
	)

	layoutCacheResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layout_cache_results_total",
			Help: "Shared layout cache results by outcome.",
		},
		[]string{"outcome"},
	)

	eventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_events_consumed_total",
			Help: "Layer events consumed by result.",
		},
		[]string{"result"},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_events_published_total",
			Help: "Layer events published by result.",
		},
		[]string{"result"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"version", "revision", "branch", "build_date"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveResolve records one resolved-layout read. source is memo, cache or
// computed; keyer is the keyer name without its argument.
func ObserveResolve(source, keyer string, durationSeconds float64) {
	resolveRequestsTotal.WithLabelValues(source).Inc()
	resolveDurationSeconds.WithLabelValues(source, keyer).Observe(durationSeconds)
}

func AddDuplicatesDetected(n int) {
	if n > 0 {
		duplicatePointsTotal.Add(float64(n))
	}
}

func SetLayerPoints(layer string, n int) {
	layerPoints.WithLabelValues(layer).Set(float64(n))
}

func ForgetLayer(layer string) {
	layerPoints.DeleteLabelValues(layer)
}

func IncStoreError(op string) {
	layerStoreErrorsTotal.WithLabelValues(op).Inc()
}

// ObserveStoreOp records the latency of a layer store operation and
// counts it as an error when err is non-nil.
func ObserveStoreOp(op string, err error, durationSeconds float64) {
	layerStoreOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
	if err != nil {
		layerStoreErrorsTotal.WithLabelValues(op).Inc()
	}
}

// SetTrackedLayers reports how many layers the hotness tracker holds.
func SetTrackedLayers(n int) {
	hotnessTrackedLayers.Set(float64(n))
}

func IncLayoutCacheHit()  { layoutCacheResultsTotal.WithLabelValues("hit").Inc() }
func IncLayoutCacheMiss() { layoutCacheResultsTotal.WithLabelValues("miss").Inc() }

// IncEventConsumed records a consumed layer event: applied, skipped or
// invalid.
func IncEventConsumed(result string) {
	eventsConsumedTotal.WithLabelValues(result).Inc()
}

// IncEventPublished records a publish attempt: ok, dropped or error.
func IncEventPublished(result string) {
	eventsPublishedTotal.WithLabelValues(result).Inc()
}

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

func ExposeBuildInfo(b BuildInfo) {
	if b.Version == "" {
		b.Version = "dev"
	}
	buildInfo.WithLabelValues(b.Version, b.Revision, b.Branch, b.BuildDate).Set(1)
}
