// Package metrics exposes the federated client's health, routing, and
// dispatch behavior as Prometheus collectors, following the donor
// project's pattern of package-level metric vars plus an idempotent
// Init/Registry pair.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry *prometheus.Registry
	initOnce sync.Once
)

// Prometheus metrics for the federated client.
var (
	AddressUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedis_address_up",
		Help: "1 if the physical address is currently considered up, 0 if down",
	}, []string{"address"})

	AddressConsecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedis_address_consecutive_failures",
		Help: "Consecutive failure count recorded for a physical address",
	}, []string{"address"})

	RetryIntervalSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedis_retry_interval_seconds",
		Help: "Current backoff retry interval for a down address, in seconds",
	}, []string{"address"})

	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedis_dispatch_total",
		Help: "Total dispatched commands by outcome",
	}, []string{"outcome"}) // ok | refused | timeout | error

	RotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedis_rotations_total",
		Help: "Total alternate-address rotations performed per logical node",
	}, []string{"node"})

	PollDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fedis_poll_duration_seconds",
		Help:    "Wall-clock time spent inside Poll",
		Buckets: prometheus.DefBuckets,
	})

	BarrierPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fedis_barrier_pending",
		Help: "Number of currently open (undispatched-reply) requests in the active batch",
	})
)

// Init registers all metrics with a new registry and returns the registry.
// Safe to call multiple times; only the first call registers.
func Init() *prometheus.Registry {
	initOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			AddressUp,
			AddressConsecutiveFailures,
			RetryIntervalSeconds,
			DispatchTotal,
			RotationsTotal,
			PollDurationSeconds,
			BarrierPending,
			prometheus.NewGoCollector(),
		)
	})
	return registry
}

// Registry returns the metrics registry (nil until Init is called).
func Registry() *prometheus.Registry {
	return registry
}

// RecordUp marks an address up and clears its failure/backoff gauges.
func RecordUp(addr string) {
	AddressUp.WithLabelValues(addr).Set(1)
	AddressConsecutiveFailures.WithLabelValues(addr).Set(0)
	RetryIntervalSeconds.WithLabelValues(addr).Set(0)
}

// RecordDown marks an address down with its current failure count and
// backoff interval.
func RecordDown(addr string, consecutiveFailures int, retryInterval float64) {
	AddressUp.WithLabelValues(addr).Set(0)
	AddressConsecutiveFailures.WithLabelValues(addr).Set(float64(consecutiveFailures))
	RetryIntervalSeconds.WithLabelValues(addr).Set(retryInterval)
}

// RecordDispatch increments the dispatch outcome counter.
func RecordDispatch(outcome string) {
	DispatchTotal.WithLabelValues(outcome).Inc()
}

// RecordRotation increments the rotation counter for a logical node.
func RecordRotation(node string) {
	RotationsTotal.WithLabelValues(node).Inc()
}

// SetBarrierPending sets the current barrier depth gauge.
func SetBarrierPending(n int) {
	BarrierPending.Set(float64(n))
}
