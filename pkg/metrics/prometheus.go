package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_jobs_processed_total",
		Help: "Total number of jobs processed, by final status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outreach_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	RecordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_recordings_total",
		Help: "Website recordings attempted, by outcome",
	}, []string{"outcome"})

	ArtifactsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_artifacts_total",
		Help: "Merged videos, by outcome",
	}, []string{"outcome"})

	EmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_emails_total",
		Help: "Outreach emails, by provider and outcome",
	}, []string{"provider", "outcome"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_active_workers",
		Help: "Number of workers currently processing a job",
	})

	ReclaimedJobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_reclaimed_jobs_total",
		Help: "Jobs whose lock expired and were redelivered or dead-lettered",
	})

	TerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_terminations_total",
		Help: "Drain/wipe/rebuild cycles, by trigger",
	}, []string{"reason"})
)
