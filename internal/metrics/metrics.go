// Package metrics holds the Prometheus collectors exported on the ops endpoint.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/and161185/streakkeeper/internal/model"
)

const namespace = "streakkeeper"

// Metrics groups every collector of the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight *prometheus.GaugeVec

	Purchases       *prometheus.CounterVec
	Repairs         *prometheus.CounterVec
	AuditEvents     *prometheus.CounterVec
	ReconcileWrites *prometheus.CounterVec
	ReconcileRuns   *prometheus.CounterVec
	ReconcileTime   prometheus.Histogram
	CatalogCache    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RequestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Total number of gRPC requests",
		}, []string{"method", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "gRPC request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RequestsInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_in_flight",
			Help:      "Number of gRPC requests currently being processed",
		}, []string{"method"}),
		Purchases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shop",
			Name:      "purchases_total",
			Help:      "Purchase attempts by item and result",
		}, []string{"item", "result"}),
		Repairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streak",
			Name:      "repairs_total",
			Help:      "Streak repair attempts by result",
		}, []string{"result"}),
		AuditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streak",
			Name:      "audit_events_total",
			Help:      "Gamification state transitions by kind",
		}, []string{"kind"}),
		ReconcileWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "writes_total",
			Help:      "Reconciler writes by outcome",
		}, []string{"outcome"}),
		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "runs_total",
			Help:      "Reconciler runs by result",
		}, []string{"result"}),
		ReconcileTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "run_duration_seconds",
			Help:      "Reconciler run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		CatalogCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "cache_lookups_total",
			Help:      "Catalog cache lookups by result",
		}, []string{"result"}),
	}
}

// ObservePurchase counts a purchase attempt.
func (m *Metrics) ObservePurchase(itemID string, err error) {
	if m == nil {
		return
	}
	m.Purchases.WithLabelValues(itemID, resultLabel(err)).Inc()
}

// ObserveRepair counts a repair attempt.
func (m *Metrics) ObserveRepair(err error) {
	if m == nil {
		return
	}
	m.Repairs.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveAudit counts state transitions.
func (m *Metrics) ObserveAudit(events ...model.AuditEvent) {
	if m == nil {
		return
	}
	for _, ev := range events {
		m.AuditEvents.WithLabelValues(string(ev.Kind)).Inc()
	}
}

// ObserveWrite counts a reconciler write outcome.
func (m *Metrics) ObserveWrite(o model.WriteOutcome) {
	if m == nil {
		return
	}
	var label string
	switch o {
	case model.WriteApplied:
		label = "applied"
	case model.WriteConflict:
		label = "conflict"
	default:
		label = "failed"
	}
	m.ReconcileWrites.WithLabelValues(label).Inc()
}

// ObserveRun records a finished reconciler run.
func (m *Metrics) ObserveRun(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(resultLabel(err)).Inc()
	m.ReconcileTime.Observe(d.Seconds())
}

// ObserveCache counts a catalog cache lookup ("hit", "miss" or "error").
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CatalogCache.WithLabelValues(result).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// UnaryServerInterceptor records request count, latency and in-flight gauge.
func UnaryServerInterceptor(m *Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if m == nil {
			return handler(ctx, req)
		}
		method := info.FullMethod

		m.RequestsInFlight.WithLabelValues(method).Inc()
		defer m.RequestsInFlight.WithLabelValues(method).Dec()

		start := time.Now()
		resp, err := handler(ctx, req)
		m.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

		code := "OK"
		if err != nil {
			code = status.Code(err).String()
		}
		m.RequestCounter.WithLabelValues(method, code).Inc()
		return resp, err
	}
}
