// Package metrics holds the process-wide Prometheus collectors, exposed by
// the server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iceberg_ingress",
		Name:      "ingest_requests_total",
		Help:      "Ingest requests by outcome (success or error kind).",
	}, []string{"outcome"})

	RowsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "iceberg_ingress",
		Name:      "rows_ingested_total",
		Help:      "Rows committed to tables.",
	})

	DataFilesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "iceberg_ingress",
		Name:      "data_files_written_total",
		Help:      "Parquet data files written to object storage.",
	})

	CommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "iceberg_ingress",
		Name:      "commit_conflicts_total",
		Help:      "Catalog compare-and-swap conflicts that triggered a retry.",
	})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "iceberg_ingress",
		Name:      "ingest_duration_seconds",
		Help:      "End-to-end ingest request latency.",
		Buckets:   prometheus.DefBuckets,
	})
)
