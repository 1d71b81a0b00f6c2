package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ledgerDivergence = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ordercore_ledger_divergence_total",
	Help: "Reconciliation runs where the cached balance and the full replay disagreed",
})
