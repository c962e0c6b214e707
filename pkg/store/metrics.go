package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "store_operations_total",
	Help: "The number of storage operations executed, by operation and outcome",
}, []string{"operation", "outcome"})

var retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "store_retries_total",
	Help: "The number of retry attempts performed for storage operations",
}, []string{"operation"})

var recordsStored = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "store_records_stored_total",
	Help: "The number of records successfully written, by table",
}, []string{"table"})

var recordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "store_records_skipped_total",
	Help: "The number of records dropped from a batch because they failed conversion",
}, []string{"table"})

var opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "store_operation_duration_seconds",
	Help:    "The duration of storage operations including retries",
	Buckets: prometheus.DefBuckets,
}, []string{"operation"})
