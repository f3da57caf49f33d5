// Package metrics exposes Prometheus counters for governance decisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"postgate/internal/model"
)

// Recorder counts decisions and adapter calls.
type Recorder struct {
	registry     *prometheus.Registry
	decisions    *prometheus.CounterVec
	adapterCalls *prometheus.CounterVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postgate_decisions_total",
				Help: "Governance decisions written to the audit trail.",
			},
			[]string{"platform", "action"},
		),
		adapterCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postgate_adapter_calls_total",
				Help: "Calls to publish adapters by result.",
			},
			[]string{"platform", "result"},
		),
	}
	r.registry.MustRegister(r.decisions, r.adapterCalls)
	return r
}

// ObserveDecision counts an audit entry.
func (r *Recorder) ObserveDecision(e model.AuditEntry) {
	r.decisions.WithLabelValues(string(e.Platform), string(e.Action)).Inc()
}

// AdapterCall counts one adapter call with result "success" or "failure".
func (r *Recorder) AdapterCall(platform model.Platform, result string) {
	r.adapterCalls.WithLabelValues(string(platform), result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
