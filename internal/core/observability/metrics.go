// Package observability holds the service's Prometheus collectors and the
// helpers the pipeline uses to record into them.
package observability

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

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

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overlay_stage_duration_seconds",
			Help:    "Duration of overlay pipeline stages (fetch, decode, present).",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"stage"},
	)

	overlayPixels = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "overlay_pixels",
			Help:    "Pixel count of rendered overlays.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	overlayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_errors_total",
			Help: "Overlay construction failures by kind.",
		},
		[]string{"kind"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Overlay cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Redis operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Processed invalidation events by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidatedKeys = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_evicted_keys_total",
			Help: "Cached overlays evicted by invalidation events.",
		},
	)

	invalidationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invalidation_latency_seconds",
			Help:    "Time to apply an invalidation event.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	publishedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_published_total",
			Help: "Invalidation events handed to the producer, by result.",
		},
		[]string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		stageDurationSeconds, overlayPixels, overlayErrors,
		cacheResults, cacheOpDuration,
		invalidations, invalidatedKeys, invalidationLatency,
		kafkaConsumerErrors, publishedEvents,
	}
}

// Init registers the collectors on reg and turns recording on or off.
// Registering twice on the same registry is harmless.
func Init(reg prometheus.Registerer, on bool) {
	enabled.Store(on)
	if reg == nil || !on {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveStage records one pipeline stage: fetch, decode or present.
func ObserveStage(stage string, d time.Duration) {
	if !enabled.Load() {
		return
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func ObservePixels(n int) {
	if !enabled.Load() {
		return
	}
	overlayPixels.Observe(float64(n))
}

// IncOverlayError counts a failed overlay: fetch, parse, georef,
// band_layout, transform, encode or internal.
func IncOverlayError(kind string) {
	if !enabled.Load() {
		return
	}
	overlayErrors.WithLabelValues(kind).Inc()
}

func IncCacheHit(tier string) {
	if !enabled.Load() {
		return
	}
	cacheResults.WithLabelValues(tier, "hit").Inc()
}

func IncCacheMiss(tier string) {
	if !enabled.Load() {
		return
	}
	cacheResults.WithLabelValues(tier, "miss").Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpDuration.WithLabelValues(op, result).Observe(durationSeconds)
}

func ObserveInvalidation(op string, evicted int, d time.Duration, err error) {
	if !enabled.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	if op == "" {
		op = "unknown"
	}
	invalidations.WithLabelValues(op, result).Inc()
	if evicted > 0 {
		invalidatedKeys.Add(float64(evicted))
	}
	invalidationLatency.Observe(d.Seconds())
}

func IncKafkaConsumerError(kind string) {
	if !enabled.Load() {
		return
	}
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func IncPublished(result string) {
	if !enabled.Load() {
		return
	}
	publishedEvents.WithLabelValues(result).Inc()
}
