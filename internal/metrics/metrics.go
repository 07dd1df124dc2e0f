// Package metrics holds the Prometheus collectors for the service.
//
// WHAT IS COUNTED:
//
//	fortune_club_http_requests_total{method,route,status}
//	fortune_club_http_request_duration_seconds{method,route}
//	fortune_club_http_inflight_requests
//	fortune_club_checkins_total{result}            new|repeat|rejected
//	fortune_club_fortune_opens_total{outcome}      opened|NOT_CHECKED_IN|ALREADY_OPENED|error
//	fortune_club_coupons_issued_total{type}        fortune|collection
//	fortune_club_coupons_used_total
//	fortune_club_staff_code_rotations_total{trigger}  schedule|manual
//	fortune_club_side_effect_failures_total{kind}  coupon_issue|debug_log
//
// side_effect_failures_total is the one to alert on: it counts coupons that
// a patron won but never received.
//
// A PRIVATE REGISTRY:
// New registers on its own registry instead of prometheus.DefaultRegisterer,
// so every test can build a fresh Metrics without "duplicate collector"
// panics.
//
// All recording methods are safe on a nil *Metrics so services can be
// constructed without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fortune_club"

// Metrics owns a private registry and the application collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	checkins       *prometheus.CounterVec
	fortuneOpens   *prometheus.CounterVec
	couponsIssued  *prometheus.CounterVec
	couponsUsed    prometheus.Counter
	codeRotations  *prometheus.CounterVec
	sideEffectErrs *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	// METRIC NAMING:
	// Namespace_Subsystem_Name, so "fortune_club_http_requests_total". Counters end
	// in _total and durations are in seconds, per Prometheus convention.
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			// 5ms doubling to about 2.5s. A bcrypt check-in sits near the
			// middle; anything in the top bucket is a lock wait.
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		checkins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkins_total",
			Help:      "Check-in attempts by result.",
		}, []string{"result"}),
		fortuneOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fortune_opens_total",
			Help:      "Fortune open attempts by outcome.",
		}, []string{"outcome"}),
		couponsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupons_issued_total",
			Help:      "Coupons issued by type.",
		}, []string{"type"}),
		couponsUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupons_used_total",
			Help:      "Coupons marked used.",
		}),
		codeRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staff_code_rotations_total",
			Help:      "Staff code rotations by trigger.",
		}, []string{"trigger"}),
		sideEffectErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Best-effort writes that failed after a committed open.",
		}, []string{"kind"}),
	}

	// MustRegister panics on a duplicate name. That can only be a
	// programming error, caught the first time New runs in a test.
	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.checkins,
		m.fortuneOpens,
		m.couponsIssued,
		m.couponsUsed,
		m.codeRotations,
		m.sideEffectErrs,
		// The default registry would add these itself; a private one has
		// to ask for them.
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records request count and latency labelled by chi route
// pattern, falling back to "unmatched" for 404s.
//
// ROUTE PATTERN, NOT PATH:
// Labels use "/api/checkin/match", never the raw URL, so a scanner hitting
// random paths cannot create unbounded label sets. The pattern is only known
// after chi has routed, hence it is read after next returns.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Scrapes are not traffic; counting them would drown the real
		// request rate at low volume.
		if m == nil || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		// defer so a panicking handler still decrements the gauge.
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder remembers the status code the handler wrote. A handler
// that never calls WriteHeader sent 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader shadows the embedded method. Write, Header and the rest are
// promoted from the embedded ResponseWriter unchanged.
func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// NIL RECEIVERS:
// The recording methods below accept a nil *Metrics and do nothing, so
// services built in tests without metrics need no stub.

// CheckIn counts one check-in attempt: new, repeat or rejected.
func (m *Metrics) CheckIn(result string) {
	if m != nil {
		m.checkins.WithLabelValues(result).Inc()
	}
}

// FortuneOpen counts opened, refusal reasons and errors.
func (m *Metrics) FortuneOpen(outcome string) {
	if m != nil {
		m.fortuneOpens.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) CouponIssued(typ string) {
	if m != nil {
		m.couponsIssued.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) CouponUsed() {
	if m != nil {
		m.couponsUsed.Inc()
	}
}

func (m *Metrics) StaffCodeRotated(trigger string) {
	if m != nil {
		m.codeRotations.WithLabelValues(trigger).Inc()
	}
}

// SideEffectFailed counts coupon and debug-log writes that failed after the
// fortune was committed. A non-zero rate means patrons are missing coupons.
func (m *Metrics) SideEffectFailed(kind string) {
	if m != nil {
		m.sideEffectErrs.WithLabelValues(kind).Inc()
	}
}
