// Package metrics holds the Prometheus collectors for provisioning,
// credential checks, the invariant sweep and HTTP traffic.
//
// All Record* methods are safe on a nil *Metrics so tests and tools can
// run without a registry.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provisioning entry labels.
const (
	EntryRegister      = "register"
	EntryProviderLogin = "provider_login"
)

type Metrics struct {
	provisioningTotal    *prometheus.CounterVec
	provisioningDuration *prometheus.HistogramVec
	credentialChecks     *prometheus.CounterVec
	invariantViolations  *prometheus.GaugeVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. A nil reg uses a
// fresh private registry, which keeps repeated construction in tests from
// colliding.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		provisioningTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_provisioning_total",
			Help: "Provisioning calls by entry point and result",
		}, []string{"entry", "result"}),
		provisioningDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskhub_provisioning_duration_seconds",
			Help:    "Latency of provisioning calls, including the transaction",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"entry"}),
		credentialChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_credential_checks_total",
			Help: "Credential verifications by result",
		}, []string{"result"}),
		invariantViolations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskhub_invariant_violations",
			Help: "Records breaking the provisioning invariant at the last sweep",
		}, []string{"kind"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests processed",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{
		m.provisioningTotal,
		m.provisioningDuration,
		m.credentialChecks,
		m.invariantViolations,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordProvisioning counts one provisioning call.
func (m *Metrics) RecordProvisioning(entry, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.provisioningTotal.WithLabelValues(entry, result).Inc()
	m.provisioningDuration.WithLabelValues(entry).Observe(d.Seconds())
}

// RecordCredentialCheck counts one verifier outcome.
func (m *Metrics) RecordCredentialCheck(result string) {
	if m == nil {
		return
	}
	m.credentialChecks.WithLabelValues(result).Inc()
}

// SetInvariantViolations publishes the latest sweep count for kind.
func (m *Metrics) SetInvariantViolations(kind string, n int64) {
	if m == nil {
		return
	}
	m.invariantViolations.WithLabelValues(kind).Set(float64(n))
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		method := strings.ToUpper(r.Method)
		m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// registerCollector registers c, ignoring duplicates.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}
