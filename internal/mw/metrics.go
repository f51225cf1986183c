package mw

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/3xpluto/batch-recorder/internal/httpx"
)

type Metrics struct {
	Requests   *prometheus.CounterVec
	Latency    *prometheus.HistogramVec
	BatchBytes prometheus.Histogram
	Rejected   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchrec_http_requests_total",
			Help: "Total HTTP requests processed by the recorder",
		}, []string{"route", "method", "code"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchrec_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		BatchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "batchrec_batch_bytes",
			Help:    "Size of accepted batch bodies",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchrec_batch_rejected_total",
			Help: "Batch submissions rejected before reaching the log",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.Requests, m.Latency, m.BatchBytes, m.Rejected)
	return m
}

// ObserveBatch and Reject are nil-safe so handlers can run without metrics.
func (m *Metrics) ObserveBatch(bytes int) {
	if m == nil {
		return
	}
	m.BatchBytes.Observe(float64(bytes))
}

func (m *Metrics) Reject(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

type routeKeyType string

const routeKey routeKeyType = "route"

func WithRoute(next http.Handler, routeName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(context.WithValue(r.Context(), routeKey, routeName))
		next.ServeHTTP(w, r)
	})
}

func RouteName(ctx context.Context) string {
	if v, ok := ctx.Value(routeKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

func Instrument(m *Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &httpx.StatusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)
		route := RouteName(r.Context())
		m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(sw.Code())).Inc()
		m.Latency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
