package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// APICollector holds the HTTP API request metrics.
type APICollector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewAPICollector creates the API collectors.
func NewAPICollector() *APICollector {
	return &APICollector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "status_code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration by route",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"route"},
		),
	}
}

func (c *APICollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.requests, c.duration}
}

// RecordAPIRequest records one served request.
func RecordAPIRequest(route string, status int, d time.Duration) {
	if c := apiCollector(); c != nil {
		c.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		c.duration.WithLabelValues(route).Observe(d.Seconds())
	}
}

// ESICollector holds the upstream ESI client metrics.
type ESICollector struct {
	requests  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
}

// NewESICollector creates the ESI collectors.
func NewESICollector() *ESICollector {
	return &ESICollector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "esi",
				Name:      "requests_total",
				Help:      "ESI requests by status code (0 = transport error)",
			},
			[]string{"status_code"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "esi",
				Name:      "retries_total",
				Help:      "ESI request retries by reason",
			},
			[]string{"reason"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "esi",
				Name:      "order_cache_total",
				Help:      "Order cache lookups by result (hit, revalidated, miss)",
			},
			[]string{"result"},
		),
	}
}

func (c *ESICollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.requests, c.retries, c.cacheHits}
}

// RecordESIRequest records one upstream response.
func RecordESIRequest(status int) {
	if c := esiCollector(); c != nil {
		c.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

// RecordESIRetry records a retry and its reason.
func RecordESIRetry(reason string) {
	if c := esiCollector(); c != nil {
		c.retries.WithLabelValues(reason).Inc()
	}
}

// RecordOrderCache records an order cache lookup result.
func RecordOrderCache(result string) {
	if c := esiCollector(); c != nil {
		c.cacheHits.WithLabelValues(result).Inc()
	}
}
