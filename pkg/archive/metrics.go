package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "archive_queue_depth",
	Help: "The current depth of an archive sink's record buffer",
}, []string{"sink"})

var recordsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "archive_records_enqueued_total",
	Help: "The number of records handed to an archive sink",
}, []string{"sink"})

var recordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "archive_records_dropped_total",
	Help: "The number of records dropped because a sink's buffer was full",
}, []string{"sink"})

var batchSubmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "archive_batch_submission_duration",
	Help:    "The duration of time it takes to submit a batch of records to a sink",
	Buckets: prometheus.DefBuckets,
}, []string{"sink"})

var batchSizeHist = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "archive_batch_size",
	Help:    "The size of a batch of records submitted to a sink",
	Buckets: prometheus.ExponentialBuckets(1, 2, 20),
}, []string{"sink"})
