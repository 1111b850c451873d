// Package metrics registers the node's prometheus collectors the way the
// pack's storage drivers do: package-level vars created with
// prometheus.New*, wired into prometheus.MustRegister from an init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	prometheus.MustRegister(
		TransportBytesTotal,
		BlobFetchDuration,
		BlobStoreBytes,
		PeersConnected,
		SearchQueriesTotal,
	)
}

// TransportBytesTotal counts bytes moved by internal/transport's
// federation client, labeled by remote server and direction
// ("up"/"down"). internal/transport.Counter is satisfied by TransportCounter
// below so that package never has to import prometheus directly.
var TransportBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hashtree_transport_bytes_total",
	Help: "Bytes moved through blob transport federation, by server and direction.",
}, []string{"server", "direction"})

// BlobFetchDuration times peer/federation blob fetches.
var BlobFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "hashtree_blob_fetch_duration_milliseconds",
	Help:    "Time to fetch a blob, from cache hit through federation fallback.",
	Buckets: prometheus.ExponentialBuckets(9.375, 2, 10),
})

// BlobStoreBytes tracks the local blob store's on-disk footprint.
var BlobStoreBytes = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "hashtree_blobstore_bytes",
	Help: "Total bytes held by the local blob store.",
})

// PeersConnected tracks the signalling controller's live peer table size.
var PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "hashtree_peers_connected",
	Help: "Number of peers currently admitted into the signalling peer table.",
})

// SearchQueriesTotal counts search index lookups.
var SearchQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "hashtree_search_queries_total",
	Help: "Number of search index queries served.",
})

// TransportCounter adapts a *prometheus.CounterVec to
// internal/transport.Counter and any other narrow
// Add(server, direction string, n float64) consumer.
type TransportCounter struct {
	vec *prometheus.CounterVec
}

// NewTransportCounter wraps vec, normally TransportBytesTotal.
func NewTransportCounter(vec *prometheus.CounterVec) TransportCounter {
	return TransportCounter{vec: vec}
}

// Add implements internal/transport.Counter.
func (c TransportCounter) Add(server, direction string, n float64) {
	if c.vec == nil {
		return
	}
	c.vec.WithLabelValues(server, direction).Add(n)
}
