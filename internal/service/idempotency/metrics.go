package idempotency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var replayHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ordercore_idempotent_replays_total",
	Help: "Requests answered from the idempotency cache without re-executing",
})
