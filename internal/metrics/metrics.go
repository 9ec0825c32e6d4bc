// Package metrics registers the prometheus collectors shared by the fetch
// client, the load dispatcher and the collector. The diagnostics server
// exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_fetch_requests_total",
		Help: "Total number of upstream fetch requests by result",
	}, []string{"prefix", "result"})

	FetchCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_fetch_cache_hits_total",
		Help: "Total number of fetches answered from the local cache",
	}, []string{"prefix"})

	FetchBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_fetch_downloaded_bytes_total",
		Help: "Total number of bytes appended to partial files",
	}, []string{"prefix"})

	FetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "globe_fetch_latency_seconds",
		Help:    "Latency of upstream fetches in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"prefix"})

	TileLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_tile_loads_total",
		Help: "Total number of node payload loads by result",
	}, []string{"layer", "result"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "globe_load_queue_depth",
		Help: "Number of nodes waiting for a load worker",
	}, []string{"layer"})

	CollectedNodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_collected_nodes_total",
		Help: "Total number of quadtree nodes removed by the collector",
	}, []string{"layer"})
)

// Result labels.
const (
	ResultOK        = "ok"
	ResultCancelled = "cancelled"
	ResultError     = "error"
)
