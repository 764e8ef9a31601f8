// Package metrics holds the Prometheus collectors shared by the model cache,
// the story pipeline and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ModelLoads counts capability loads by kind and outcome.
var ModelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storyteller_model_loads_total",
	Help: "Model capability loads by kind and outcome",
}, []string{"kind", "outcome"})

// ModelLoadDuration tracks how long capability loads take.
var ModelLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "storyteller_model_load_duration_seconds",
	Help:    "Model capability load latency",
	Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
}, []string{"kind"})

// StageDuration tracks pipeline stage latency by stage and outcome.
var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "storyteller_stage_duration_seconds",
	Help:    "Story pipeline stage latency",
	Buckets: []float64{0.25, 1, 2.5, 5, 10, 30, 60, 180},
}, []string{"stage", "outcome"})

// DegenerateStories counts generations flagged by the quality heuristic.
var DegenerateStories = promauto.NewCounter(prometheus.CounterOpts{
	Name: "storyteller_degenerate_stories_total",
	Help: "Generated stories flagged as likely degenerate",
})

// ArtifactsPending is the number of audio artifacts waiting for deletion.
var ArtifactsPending = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "storyteller_audio_artifacts_pending",
	Help: "Audio artifacts scheduled for deferred deletion",
})

// FileDeleteFailures counts uploads and artifacts that could not be removed.
var FileDeleteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storyteller_file_delete_failures_total",
	Help: "Transient files that could not be deleted",
}, []string{"kind"})

// Outcome maps an error to the outcome label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
