package alwaysoffline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Response sources of the fetch counter.
const (
	sourceCache       = "cache"
	sourceNetwork     = "network"
	sourceFallback    = "fallback"
	sourcePassthrough = "passthrough"
	sourceError       = "error"
)

var fetchTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "always_offline_fetch_total",
		Help: "Total number of intercepted requests by response source",
	},
	[]string{"source"},
)

var cacheWriteTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "always_offline_cache_writes_total",
		Help: "Total number of opportunistic cache writes after serving a response",
	},
	[]string{"result"},
)

var installTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "always_offline_installs_total",
		Help: "Total number of worker installs by result",
	},
	[]string{"result"},
)

var cacheDeleteTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "always_offline_cache_deletions_total",
		Help: "Total number of obsolete cache deletions during activation by result",
	},
	[]string{"result"},
)
