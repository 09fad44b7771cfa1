package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatlog"

// Registry owns the service collectors and exposes them over HTTP.
type Registry struct {
	registry        *prometheus.Registry
	appended        prometheus.Counter
	evicted         prometheus.Counter
	storeFailures   *prometheus.CounterVec
	rateLimited     prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewRegistry registers the chat collectors plus the Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to the log.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_evicted_total",
			Help:      "Messages evicted by the retention ceiling.",
		}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Persistence failures by store operation.",
		}, []string{"operation"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_rate_limited_total",
			Help:      "Writes rejected by the per-author limiter.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	r.registry.MustRegister(
		r.appended,
		r.evicted,
		r.storeFailures,
		r.rateLimited,
		r.requests,
		r.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Registry) MessageAppended() {
	r.appended.Inc()
}

func (r *Registry) MessagesEvicted(count int) {
	r.evicted.Add(float64(count))
}

func (r *Registry) StoreFailed(operation string) {
	r.storeFailures.WithLabelValues(operation).Inc()
}

func (r *Registry) WriteRateLimited() {
	r.rateLimited.Inc()
}

// ObserveRequest records one handled HTTP request. route is the matched route pattern.
func (r *Registry) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
