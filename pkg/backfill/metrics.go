package backfill

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var walksStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "backfill_walks_started_total",
	Help: "The number of guild backfill walks started",
})

var walksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "backfill_walks_completed_total",
	Help: "The number of guild backfill walks finished, by outcome",
}, []string{"outcome"})

var messagesBackfilled = promauto.NewCounter(prometheus.CounterOpts{
	Name: "backfill_messages_total",
	Help: "The number of messages persisted by the backfill walker",
})

var channelErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "backfill_channel_errors_total",
	Help: "The number of channels the walker gave up on after an error",
})

var activeWalks = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "backfill_active_walks",
	Help: "The number of guild backfill walks currently running",
})
