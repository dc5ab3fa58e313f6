package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for sorted-result cache traffic.
var (
	hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buildgraph_cache_hits_total",
		Help: "Sorted-result lookups served from the cache",
	})

	misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buildgraph_cache_misses_total",
		Help: "Sorted-result lookups that found no entry",
	})

	writes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buildgraph_cache_writes_total",
		Help: "Sorted results stored in the cache",
	})

	invalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buildgraph_cache_invalidations_total",
		Help: "Prefix invalidations applied to the cache",
	})

	lookupErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buildgraph_cache_lookup_errors_total",
		Help: "Cache reads degraded to a miss by backend or decode errors",
	})

	writeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buildgraph_cache_write_errors_total",
		Help: "Cache writes and invalidations dropped by backend errors",
	})
)
