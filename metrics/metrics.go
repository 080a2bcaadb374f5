package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_splitter_jobs_processed_total",
		Help: "Total number of split jobs finished, by status",
	}, []string{"status"})

	JobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_splitter_jobs_submitted_total",
		Help: "Split requests accepted, by outcome (queued, cached, deduplicated)",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "video_splitter_stage_duration_seconds",
		Help:    "Duration of split pipeline stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	ClipsProducedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "video_splitter_clips_produced_total",
		Help: "Total number of clips produced across all jobs",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "video_splitter_active_workers",
		Help: "Number of workers currently running a job",
	})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_splitter_cache_lookups_total",
		Help: "Result cache lookups, by result (hit, miss)",
	}, []string{"result"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "video_splitter_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})

	FilesRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "video_splitter_files_removed_total",
		Help: "Files removed by the retention janitor",
	})
)
