package points

import "github.com/prometheus/client_golang/prometheus"

var entriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fashionpoint",
		Subsystem: "points",
		Name:      "entries_total",
		Help:      "Total point ledger entries appended, by type.",
	},
	[]string{"type"},
)

func init() {
	prometheus.MustRegister(entriesTotal)
}

func observeEntry(typ string) {
	entriesTotal.WithLabelValues(typ).Inc()
}
