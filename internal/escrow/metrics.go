package escrow

import "github.com/prometheus/client_golang/prometheus"

var (
	createdTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fashionpoint",
			Subsystem: "escrow",
			Name:      "created_total",
			Help:      "Escrows created on the ledger, by kind.",
		},
		[]string{"kind"},
	)

	releasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fashionpoint",
			Subsystem: "escrow",
			Name:      "released_total",
			Help:      "Escrows released, by settlement path.",
		},
		[]string{"path"},
	)

	canceledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fashionpoint",
			Subsystem: "escrow",
			Name:      "canceled_total",
			Help:      "Escrows canceled by the refund path.",
		},
	)
)

func init() {
	prometheus.MustRegister(createdTotal, releasedTotal, canceledTotal)
}

func observeCreate(kind Kind) {
	createdTotal.WithLabelValues(string(kind)).Inc()
}

func observeRelease(tag string) {
	path := "finish"
	switch tag {
	case TagManualFinish:
		path = "manual"
	case TagAlreadySettled:
		path = "already_settled"
	}
	releasedTotal.WithLabelValues(path).Inc()
}

func observeCancel() {
	canceledTotal.Inc()
}
