package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the dashboard's prometheus instruments. Each App registers its
// own set on the registerer it is given, so tests can use a fresh registry.
type Metrics struct {
	Edits           *prometheus.CounterVec
	Reverts         *prometheus.CounterVec
	Pushes          *prometheus.CounterVec
	PersistFailures prometheus.Counter
	DirtyVariants   prometheus.Gauge
	StaleFetches    prometheus.Counter
	FetchedBatches  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Edits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast",
			Name:      "edits_total",
			Help:      "Applied forecast edits by kind.",
		}, []string{"kind"}),
		Reverts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast",
			Name:      "reverts_total",
			Help:      "Applied reverts by kind.",
		}, []string{"kind"}),
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast",
			Name:      "pushes_total",
			Help:      "Upstream pushes by outcome.",
		}, []string{"outcome"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "forecast",
			Name:      "persist_failures_total",
			Help:      "Upstream pushes that failed after an optimistic update.",
		}),
		DirtyVariants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "forecast",
			Name:      "dirty_variants",
			Help:      "Variants whose latest state has not reached the backend.",
		}),
		StaleFetches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "forecast",
			Name:      "stale_fetches_total",
			Help:      "Fetch results discarded because a newer fetch started.",
		}),
		FetchedBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "forecast",
			Name:      "fetched_batches_total",
			Help:      "Product batches applied to the store.",
		}),
	}
}
