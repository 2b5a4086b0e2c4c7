package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsFinishedTotal, jobDurationSeconds, stageTransitionsTotal) }

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "generation_jobs_finished_total",
		Help: "Total number of generation jobs finished, labeled by terminal status.",
	},
	[]string{"status"}, // 'complete', 'failed'
)

var jobDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "generation_job_duration_seconds",
		Help:    "Wall-clock duration of generation process runs.",
		Buckets: []float64{15, 30, 60, 120, 240, 480, 900, 1800},
	},
	[]string{"status"},
)

var stageTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "generation_stage_transitions_total",
		Help: "Stage transitions recorded by the progress tracker, labeled by stage and source.",
	},
	[]string{"stage", "source"}, // source: 'process', 'timer'
)

func IncJobFinished(status string, seconds float64) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
	jobDurationSeconds.WithLabelValues(norm(status)).Observe(seconds)
}

func IncStageTransition(stage, source string) {
	stageTransitionsTotal.WithLabelValues(norm(stage), norm(source)).Inc()
}
