package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fashionpoint",
		Subsystem: "scheduler",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation passes in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	ticksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fashionpoint",
		Subsystem: "scheduler",
		Name:      "ticks_skipped_total",
		Help:      "Ticks skipped because the previous pass was still running.",
	})

	escrowsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fashionpoint",
		Subsystem: "scheduler",
		Name:      "escrows_released_total",
		Help:      "Escrows released by the sweep.",
	})

	ordersExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fashionpoint",
		Subsystem: "scheduler",
		Name:      "orders_expired_total",
		Help:      "PAID orders promoted to COMPLETED by the sweep.",
	})

	sweepErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fashionpoint",
		Subsystem: "scheduler",
		Name:      "sweep_errors_total",
		Help:      "Sweep-level failures, by scan.",
	}, []string{"scan"})
)

func init() {
	prometheus.MustRegister(
		runDuration,
		ticksSkipped,
		escrowsSwept,
		ordersExpired,
		sweepErrors,
	)
}
