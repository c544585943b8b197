// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Domain metrics
	AuthEventsTotal     *prometheus.CounterVec
	PostOperationsTotal *prometheus.CounterVec
	MailSentTotal       *prometheus.CounterVec
	UploadsTotal        *prometheus.CounterVec
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blog_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blog_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blog_auth_events_total",
				Help: "Authentication events by kind and result",
			},
			[]string{"event", "result"},
		),
		PostOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blog_post_operations_total",
				Help: "Post operations by kind and result",
			},
			[]string{"operation", "result"},
		),
		MailSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blog_mail_sent_total",
				Help: "Outbound mail handed to a transport",
			},
			[]string{"transport", "result"},
		),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blog_uploads_total",
				Help: "Image uploads by storage backend and result",
			},
			[]string{"backend", "result"},
		),
	}

	registerer.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthEventsTotal,
		m.PostOperationsTotal,
		m.MailSentTotal,
		m.UploadsTotal,
	)

	return m
}

// Auth records an authentication event.
func (m *Metrics) Auth(event string, err error) {
	m.AuthEventsTotal.WithLabelValues(event, result(err)).Inc()
}

// Post records a post operation.
func (m *Metrics) Post(operation string, err error) {
	m.PostOperationsTotal.WithLabelValues(operation, result(err)).Inc()
}

// Upload records an upload attempt against backend.
func (m *Metrics) Upload(backend string, err error) {
	m.UploadsTotal.WithLabelValues(backend, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// Middleware instruments requests. The route label is the chi route pattern
// so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := RoutePattern(r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RoutePattern returns the matched chi pattern, or "unmatched".
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
