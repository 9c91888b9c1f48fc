package order

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fashionpoint",
			Subsystem: "order",
			Name:      "transitions_total",
			Help:      "Order status transitions, by target status.",
		},
		[]string{"to"},
	)

	paymentDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fashionpoint",
			Subsystem: "order",
			Name:      "payment_drops_total",
			Help:      "Total drops settled through order payments.",
		},
	)
)

func init() {
	prometheus.MustRegister(transitionsTotal, paymentDrops)
}

func observeTransition(to Status) {
	transitionsTotal.WithLabelValues(string(to)).Inc()
}

func observePayment(drops int64) {
	if drops > 0 {
		paymentDrops.Add(float64(drops))
	}
}
