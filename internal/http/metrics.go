package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "confvault"

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

type routerMetrics struct {
	requestTotal      *prometheus.CounterVec
	requestLatency    *prometheus.HistogramVec
	rateLimitHits     *prometheus.CounterVec
	variableMutations *prometheus.CounterVec
	decryptFailures   prometheus.Counter
}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		m := &routerMetrics{}
		m.requestTotal = register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}))

		m.requestLatency = register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}))

		m.rateLimitHits = register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"}))

		m.variableMutations = register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "variable_mutations_total",
			Help:      "Committed variable mutations by action and secrecy",
		}, []string{"action", "secret"}))

		m.decryptFailures = register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "decrypt_failures_total",
			Help:      "Secret reads rejected because the ciphertext could not be opened",
		}))
		r.metrics = m
	})
}

// register adds c to the default registry, reusing an identical collector
// when one is already registered.
func register[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if r.metrics == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.metrics.requestTotal.With(labels).Inc()
	r.metrics.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	if r.metrics == nil {
		return
	}
	r.metrics.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (r *Router) recordVariableMutation(action string, secret bool) {
	if r.metrics == nil {
		return
	}
	r.metrics.variableMutations.With(prometheus.Labels{"action": action, "secret": strconv.FormatBool(secret)}).Inc()
}

func (r *Router) recordDecryptFailure() {
	if r.metrics == nil {
		return
	}
	r.metrics.decryptFailures.Inc()
}
