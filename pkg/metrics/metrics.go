// Package metrics defines Prometheus metrics for the MailLens worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion metrics
var (
	IngestFilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maillens_ingest_files_total",
			Help: "Total number of mailbox unit files processed",
		},
		[]string{"result"}, // inserted, duplicate
	)

	IngestJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maillens_ingest_jobs_total",
			Help: "Total number of ingestion jobs by terminal state",
		},
		[]string{"result"}, // done, cancelled, error
	)

	IngestJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maillens_ingest_job_duration_seconds",
			Help:    "Duration of ingestion jobs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		},
	)

	IngestBatchCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maillens_ingest_batch_commit_duration_seconds",
			Help:    "Duration of batch transaction commits in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
	)

	IngestFilesDiscovered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maillens_ingest_files_discovered",
			Help: "Number of files discovered by the most recent ingestion job",
		},
	)
)

// Store metrics
var (
	MessagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maillens_messages_total",
			Help: "Total number of messages in the store",
		},
	)
)

// HTTP API metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maillens_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maillens_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
