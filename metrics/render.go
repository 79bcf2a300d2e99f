package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRender = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msgview_render_duration_seconds",
			Help:    "Message renders and their duration, by result.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10},
		},
		[]string{
			"result", // html, plain, fallback, single, empty
		},
	)
	metricRenderWarning = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgview_render_warning_total",
			Help: "Warnings raised while rendering messages, by kind.",
		},
		[]string{
			"kind", // partial-parse-failure, invalid-html-fallback
		},
	)
)

// RenderObserve tracks a completed render.
func RenderObserve(result string, start time.Time) {
	metricRender.WithLabelValues(result).Observe(float64(time.Since(start)) / float64(time.Second))
}

// RenderWarningInc counts a warning surfaced to the user.
func RenderWarningInc(kind string) {
	metricRenderWarning.WithLabelValues(kind).Inc()
}
