package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus registry of the server.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	checkoutsTotal   *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	cacheLookups     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fotocopias_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fotocopias_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fotocopias_checkouts_total",
		Help: "Checkout attempts by outcome and payment method.",
	}, []string{"outcome", "payment_method"})
	checkoutDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fotocopias_checkout_commit_duration_seconds",
		Help:    "Time spent committing a checkout to the store.",
		Buckets: prometheus.DefBuckets,
	})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fotocopias_read_model_lookups_total",
		Help: "Read model cache lookups by namespace and result.",
	}, []string{"namespace", "result"})
	registry.MustRegister(requests, duration, checkouts, checkoutDuration, lookups)

	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		checkoutsTotal:   checkouts,
		checkoutDuration: checkoutDuration,
		cacheLookups:     lookups,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Middleware records count and latency of every request by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// CheckoutOutcome counts a finished checkout attempt.
func (m *Metrics) CheckoutOutcome(outcome string, paymentMethod string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.checkoutsTotal.WithLabelValues(outcome, paymentMethod).Inc()
	if elapsed > 0 {
		m.checkoutDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) CacheLookup(namespace string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(namespace, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
