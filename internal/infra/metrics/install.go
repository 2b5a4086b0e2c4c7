package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(installDurationSeconds, installFailuresTotal) }

var installDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "dependency_install_duration_seconds",
		Help:    "Duration of dependency installs, labeled by mode (full/incremental).",
		Buckets: []float64{5, 10, 20, 40, 80, 160, 320, 600},
	},
	[]string{"mode"},
)

var installFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dependency_install_failures_total",
		Help: "Install/schema/seed steps that failed (all non-fatal to the job).",
	},
	[]string{"step"},
)

func ObserveInstall(mode string, seconds float64) {
	installDurationSeconds.WithLabelValues(norm(mode)).Observe(seconds)
}

func IncInstallFailure(step string) {
	installFailuresTotal.WithLabelValues(norm(step)).Inc()
}
