package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for resolve traffic and execution runs.
var (
	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buildgraph_resolve_duration_seconds",
		Help:    "Time spent resolving a build into a sorted task list",
		Buckets: prometheus.DefBuckets,
	}, []string{"algorithm", "outcome"})

	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buildgraph_executions_total",
		Help: "Execution runs by terminal status",
	}, []string{"status"})
)
