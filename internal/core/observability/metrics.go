// Package observability holds the prometheus collectors shared by the tile
// fetcher, the cache tiers and the HTTP surface.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of tile server fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"outcome"},
	)

	cacheOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of persistent tile cache operations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
		[]string{"backend", "op"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Persistent tile cache operations by result.",
		},
		[]string{"backend", "op", "result"},
	)

	tileRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_requests_total",
			Help: "Tile requests by the tier that satisfied them.",
		},
		[]string{"tier"},
	)

	tileFetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_fetch_errors_total",
			Help: "Failed tile fetches by error kind.",
		},
		[]string{"kind"},
	)

	tileSharedWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_inflight_shared_total",
			Help: "Tile requests that were satisfied by joining an in-flight fetch.",
		},
	)

	memoryEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_memory_evictions_total",
			Help: "Entries evicted from the in-memory tile tier.",
		},
	)

	memoryEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tile_memory_entries",
			Help: "Tiles currently held in memory across all layers.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version", "revision"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		cacheOpDurationSeconds,
		cacheOpTotal,
		tileRequests,
		tileFetchErrors,
		tileSharedWaits,
		memoryEvictions,
		memoryEntries,
		buildInfo,
	}
}

func init() {
	Init(prometheus.DefaultRegisterer)
}

// Init registers every collector with r. Registering twice with the same
// registry is a no-op.
func Init(r prometheus.Registerer) {
	if r == nil {
		return
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(outcome string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

// ObserveCacheOp records one persistent-tier call. A miss is not an error.
func ObserveCacheOp(backend, op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(backend, op, result).Inc()
	cacheOpDurationSeconds.WithLabelValues(backend, op).Observe(durationSeconds)
}

// IncTileRequest counts a request satisfied by tier (memory, disk, network).
func IncTileRequest(tier string) {
	tileRequests.WithLabelValues(tier).Inc()
}

func IncFetchError(kind string) {
	tileFetchErrors.WithLabelValues(kind).Inc()
}

func IncSharedWait() {
	tileSharedWaits.Inc()
}

func AddEvictions(n int) {
	if n > 0 {
		memoryEvictions.Add(float64(n))
	}
}

// AddMemoryEntries moves the resident-tile gauge by delta.
func AddMemoryEntries(delta int) {
	memoryEntries.Add(float64(delta))
}

func ExposeBuildInfo(version, revision string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version, revision).Set(1)
}
