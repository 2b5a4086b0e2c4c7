package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(previewDeploysTotal, previewWaitSeconds) }

var previewDeploysTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "preview_deploys_total",
		Help: "Preview deploy attempts, labeled by outcome (ready/failed/timeout).",
	},
	[]string{"outcome"},
)

var previewWaitSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "preview_deploy_wait_seconds",
		Help:    "Time spent waiting for a preview deploy to become ready.",
		Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160, 300},
	},
)

func ObservePreview(outcome string, seconds float64) {
	previewDeploysTotal.WithLabelValues(norm(outcome)).Inc()
	previewWaitSeconds.Observe(seconds)
}
