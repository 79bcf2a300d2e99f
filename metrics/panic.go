package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Panic is where a panic was recovered.
type Panic string

const (
	PanicInline  Panic = "inline"
	PanicClean   Panic = "clean"
	PanicImages  Panic = "images"
	PanicWebmail Panic = "webmail"
)

var metricPanic = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "msgview_panic_total",
		Help: "Number of recovered panics, by location.",
	},
	[]string{
		"where",
	},
)

// PanicInc counts a recovered panic. Panics in html passes are turned into
// errors of the pass, others are logged and passed on.
func PanicInc(where Panic) {
	metricPanic.WithLabelValues(string(where)).Inc()
}
