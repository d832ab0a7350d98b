// Package metrics exposes Prometheus collectors for probes, cycles and the
// live feed.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

const namespace = "opsmonitor"

// Metrics owns its own registry so tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	ProbesTotal       *prometheus.CounterVec
	ProbeDuration     *prometheus.HistogramVec
	CyclesTotal       prometheus.Counter
	CycleErrorsTotal  prometheus.Counter
	CycleDuration     prometheus.Histogram
	TargetsChecked    prometheus.Gauge
	TransitionsTotal  prometheus.Counter
	Subscribers       prometheus.Gauge
	AlertsTotal       *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Probes run, by check type and resulting status.",
		}, []string{"check_type", "status"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall time of a single probe.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"check_type"}),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Health check cycles attempted.",
		}),
		CycleErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Cycles that failed or panicked.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a whole cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		TargetsChecked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets_checked",
			Help:      "Targets probed by the last cycle.",
		}),
		TransitionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed status transitions.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscribers",
			Help:      "Connected live feed subscribers.",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Webhook alerts, by result.",
		}, []string{"result"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests, by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ProbesTotal,
		m.ProbeDuration,
		m.CyclesTotal,
		m.CycleErrorsTotal,
		m.CycleDuration,
		m.TargetsChecked,
		m.TransitionsTotal,
		m.Subscribers,
		m.AlertsTotal,
		m.HTTPRequestsTotal,
	)
	return m
}

// ObserveProbe implements probe.Observer.
func (m *Metrics) ObserveProbe(kind domain.CheckKind, status domain.Status, d time.Duration) {
	m.ProbesTotal.WithLabelValues(string(kind), string(status)).Inc()
	m.ProbeDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// ObserveCycle implements scheduler.CycleObserver.
func (m *Metrics) ObserveCycle(checked, transitions int, d time.Duration, err error) {
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(d.Seconds())
	if err != nil {
		m.CycleErrorsTotal.Inc()
		return
	}
	m.TargetsChecked.Set(float64(checked))
	m.TransitionsTotal.Add(float64(transitions))
}

// SetSubscribers implements live.CountObserver.
func (m *Metrics) SetSubscribers(n int) {
	m.Subscribers.Set(float64(n))
}

// ObserveAlert implements notify.AlertObserver.
func (m *Metrics) ObserveAlert(err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.AlertsTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Middleware counts requests by chi route pattern, so path parameters do
// not blow up label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
	})
}
