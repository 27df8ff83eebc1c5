// Package observability exposes Prometheus metrics for the tile server.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tileRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_requests_total",
			Help: "Total number of tile requests.",
		},
		[]string{"tileset", "status"},
	)

	tileRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_request_duration_seconds",
			Help:    "Duration of tile requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"tileset", "status"},
	)

	tileEncodeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_encode_duration_seconds",
			Help:    "Time spent encoding vector tiles in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"tileset"},
	)

	tileBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_bytes",
			Help:    "Size of served (gzipped) tiles in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"tileset"},
	)

	dbQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of datasource layer queries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"datasource", "layer"},
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of cache backend operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Tile cache results by outcome.",
		},
		[]string{"tier", "outcome"},
	)

	invalidationLagSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "invalidation_lag_seconds",
			Help: "Age of the most recently processed invalidation event.",
		},
	)

	invalidatedTiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidated_tiles_total",
			Help: "Cached tiles dropped by invalidation events.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveTile(tileset string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	tileRequestsTotal.WithLabelValues(tileset, st).Inc()
	tileRequestDurationSeconds.WithLabelValues(tileset, st).Observe(durationSeconds)
}

func ObserveTileEncode(tileset string, durationSeconds float64, sizeBytes int) {
	tileEncodeDurationSeconds.WithLabelValues(tileset).Observe(durationSeconds)
	tileBytes.WithLabelValues(tileset).Observe(float64(sizeBytes))
}

func ObserveDBQuery(datasource, layer string, durationSeconds float64) {
	dbQueryDurationSeconds.WithLabelValues(datasource, layer).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpDurationSeconds.WithLabelValues(op, outcome).Observe(durationSeconds)
}

func IncCacheHit(tier string)  { cacheResults.WithLabelValues(tier, "hit").Inc() }
func IncCacheMiss(tier string) { cacheResults.WithLabelValues(tier, "miss").Inc() }

func SetInvalidationLagSeconds(v float64) { invalidationLagSeconds.Set(v) }
func AddInvalidatedTiles(n int)           { invalidatedTiles.Add(float64(n)) }

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
