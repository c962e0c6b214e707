package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_events_received_total",
	Help: "The number of gateway events received, by event kind",
}, []string{"event"})

var eventsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_events_filtered_total",
	Help: "The number of gateway events skipped by the inclusion policy",
}, []string{"event"})

var handlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_handler_errors_total",
	Help: "The number of errors recovered at the top of event handlers",
}, []string{"event"})

var recordsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_records_flushed_total",
	Help: "The number of records handed to the persistence gateway, by queue and outcome",
}, []string{"queue", "outcome"})
