// Package metricswrap decorates a hotness tracker with Prometheus and
// logging side effects.
package metricswrap

import (
	"github.com/rs/zerolog"

	xx "github.com/cespare/xxhash/v2"

	"github.com/Berto-e/spiderfy/internal/hotness"
	"github.com/Berto-e/spiderfy/internal/observability"
)

type Sizer interface{ Size() int }

// WithMetrics forwards to the inner tracker, keeps the tracked-layers
// gauge current and logs layers that cross the hot threshold. Logging
// is sampled per layer name so a hot layer does not flood the log.
type WithMetrics struct {
	inner     hotness.Interface
	threshold float64
	logSample float64
	log       zerolog.Logger
}

func New(inner hotness.Interface, threshold, logSample float64, log zerolog.Logger) *WithMetrics {
	return &WithMetrics{
		inner:     inner,
		threshold: threshold,
		logSample: logSample,
		log:       log,
	}
}

var _ hotness.Interface = (*WithMetrics)(nil)

func (w *WithMetrics) Touch(layer string) {
	w.inner.Touch(layer)
	if w.threshold > 0 {
		score := w.inner.Score(layer)
		if score >= w.threshold && shouldLog(w.logSample, layer) {
			w.log.Info().
				Str("event", "hotness_threshold").
				Str("layer", layer).
				Float64("score", score).
				Msg("layer above hot threshold")
		}
	}

	if s, ok := w.inner.(Sizer); ok {
		observability.SetTrackedLayers(s.Size())
	}
}

func (w *WithMetrics) Score(layer string) float64 {
	return w.inner.Score(layer)
}

func (w *WithMetrics) Forget(layers ...string) {
	w.inner.Forget(layers...)
	if s, ok := w.inner.(Sizer); ok {
		observability.SetTrackedLayers(s.Size())
	}
}

func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000 // 0.01 => 100/10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	h := xx.Sum64String(key)
	return (h % denom) < threshold
}
