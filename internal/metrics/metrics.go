package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "identrail"
)

var (
	jobDurationBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}

	// Job metrics
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Time taken for a connector job to run, dispatch through finalize.",
		Buckets:   jobDurationBuckets,
	}, []string{"connector_type"})

	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Count of job executions by terminal status.",
	}, []string{"connector_type", "status"})

	JobLastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "job_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last completed job per connector type.",
	}, []string{"connector_type"})

	// Ingest metrics
	FindingsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "findings_ingested_total",
		Help:      "Findings accepted at the ingest boundary, by dedup result.",
	}, []string{"source_type", "result"})

	// Pipeline metrics
	PipelineStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_stage_duration_seconds",
		Help:      "Time taken by one resolution pipeline stage.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_runs_total",
		Help:      "Count of pipeline stage executions.",
	}, []string{"stage", "status"})

	IdentitiesResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identities_resolved_total",
		Help:      "Identities created or updated by each pipeline stage.",
	}, []string{"stage"})
)
