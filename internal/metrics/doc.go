/*
Package metrics exports molcache's Prometheus metrics.

A single Collector owns every metric. Components receive it as an
optional dependency and call its methods directly; a nil *Collector turns
every method into a no-op, so tests and disabled deployments need no
special casing.

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Path:      "/metrics",
		Namespace: "molcache",
	}, reg)

The exported series are:

	tier_lookups_total{tier,result}     reads per tier: hit, miss, expired, error
	tier_size_bytes{tier}               bytes tracked per tier
	origin_fetches_total{result}        success, not_found, error
	origin_fetch_duration_seconds       origin latency histogram
	origin_inflight                     origin calls running now
	coalesced_waiters_total             fetches that joined an in-flight call
	prefetch_items_total{status}        cached, fetched, failed, canceled
	hit_rate                            rolling hit rate
	quality_level                       0 low, 1 medium, 2 high
	quality_transitions_total{from,to}
	frame_time_ms                       frame time histogram
	bottleneck{resource}                1 for the dominant resource
	strategy_weight{weight}             popularity, recency, relevance
	warm_cycles_total{result}

Handler serves them in OpenMetrics format.
*/
package metrics
