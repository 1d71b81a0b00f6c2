package txn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordercore_tx_retries_total",
		Help: "Unit-of-work re-executions after a transient conflict",
	})

	txExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordercore_tx_retry_exhausted_total",
		Help: "Units of work that surfaced a conflict after the retry budget ran out",
	})
)
