package stake

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uhyunpark/marketstake/pkg/app/core"
)

var (
	registerOnce sync.Once

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketstake",
			Subsystem: "app",
			Name:      "operations_total",
			Help:      "Operations by name and result kind.",
		},
		[]string{"op", "result"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketstake",
			Subsystem: "app",
			Name:      "operation_duration_seconds",
			Help:      "Operation latency including persistence.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketstake",
			Subsystem: "app",
			Name:      "events_total",
			Help:      "Published domain events by type.",
		},
		[]string{"type"},
	)
)

// RegisterMetrics registers the app collectors with the default registry
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(operationsTotal, operationDuration, eventsTotal)
	})
}

func recordOperation(op string, err error, d time.Duration) {
	operationsTotal.WithLabelValues(op, core.Kind(err)).Inc()
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
}
