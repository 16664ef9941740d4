package shard

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	shardOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardfs",
			Subsystem: "shard",
			Name:      "operations_total",
			Help:      "Number of per-shard operations issued by access strategies, by outcome.",
		},
		[]string{"shard", "outcome"})

	shardOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shardfs",
			Subsystem: "shard",
			Name:      "operation_duration_seconds",
			Help:      "Amount of time spent on per-shard operations, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.0, 16),
		},
		[]string{"shard"})

	shardIdentityProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardfs",
			Subsystem: "shard",
			Name:      "identity_probes_total",
			Help:      "Number of shard identity probes performed while constructing shard maps, by outcome.",
		},
		[]string{"outcome"})
)

func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(shardOperationsTotal)
		prometheus.MustRegister(shardOperationDurationSeconds)
		prometheus.MustRegister(shardIdentityProbesTotal)
	})
}

func observeOperation(shardID string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	shardOperationsTotal.WithLabelValues(shardID, outcome).Inc()
	shardOperationDurationSeconds.WithLabelValues(shardID).Observe(time.Since(start).Seconds())
}
