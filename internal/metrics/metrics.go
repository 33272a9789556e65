// Package metrics exposes Prometheus collectors for the attestor.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector on a private Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	Inferences     *prometheus.CounterVec
	SourceFailures *prometheus.CounterVec
	Deviation      *prometheus.GaugeVec
	AuditDuration  *prometheus.HistogramVec
	Signatures     prometheus.Counter
}

// New builds and registers the collectors.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		Inferences: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attestor_inferences_total",
				Help: "Inferences by asset and reason",
			},
			[]string{"asset", "reason"},
		),
		SourceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attestor_source_failures_total",
				Help: "Failed source reads by source",
			},
			[]string{"source"},
		),
		Deviation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "attestor_reference_deviation_ratio",
				Help: "Last observed |reference - street| / street by asset",
			},
			[]string{"asset"},
		),
		AuditDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "attestor_audit_duration_seconds",
				Help:    "Wall time of one asset audit including signing",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"asset"},
		),
		Signatures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "attestor_manifests_signed_total",
				Help: "Manifests signed",
			},
		),
	}

	r.registry.MustRegister(
		r.Inferences,
		r.SourceFailures,
		r.Deviation,
		r.AuditDuration,
		r.Signatures,
		collectors.NewGoCollector(),
	)
	return r
}

// SourceFailed counts a failed source read.
func (r *Registry) SourceFailed(source string) {
	r.SourceFailures.WithLabelValues(source).Inc()
}

// Inferred counts an inference outcome and records its deviation.
func (r *Registry) Inferred(asset, reason string, deviation float64) {
	r.Inferences.WithLabelValues(asset, reason).Inc()
	if deviation > 0 {
		r.Deviation.WithLabelValues(asset).Set(deviation)
	}
}

// Signed counts a produced manifest.
func (r *Registry) Signed() {
	r.Signatures.Inc()
}

// ObserveAudit records the duration of one asset audit.
func (r *Registry) ObserveAudit(asset string, d time.Duration) {
	r.AuditDuration.WithLabelValues(asset).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
