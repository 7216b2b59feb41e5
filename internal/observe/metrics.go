package observe

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "mcpagent"

// Metrics turns events into Prometheus series.
type Metrics struct {
	gatherer prometheus.Gatherer

	phaseCalls     *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec
	tokensEstimate *prometheus.CounterVec
	backendTime    *prometheus.HistogramVec
	runs           *prometheus.CounterVec
}

// NewMetrics registers collectors on reg. A nil reg gets a private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		phaseCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "phase_calls_total",
			Help:      "Backend phase calls by phase and outcome.",
		}, []string{"phase", "outcome"}),
		phaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of backend phase calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		tokensEstimate: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_estimate_total",
			Help:      "Backend-reported token estimates, summed per phase.",
		}, []string{"phase"}),
		backendTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "backend_execution_seconds",
			Help:      "Backend-reported execution time of exec and batch calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Finished orchestration runs by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
	}
}

func (m *Metrics) Emit(_ context.Context, e Event) {
	switch e.Kind {
	case KindPhaseCompleted:
		m.phaseCalls.WithLabelValues(e.Phase, "success").Inc()
		m.phaseDuration.WithLabelValues(e.Phase).Observe(e.Duration.Seconds())
		if e.TokensEstimate != nil && *e.TokensEstimate > 0 {
			m.tokensEstimate.WithLabelValues(e.Phase).Add(*e.TokensEstimate)
		}
		if e.ExecutionTime != nil {
			m.backendTime.WithLabelValues(e.Phase).Observe(*e.ExecutionTime / 1000)
		}
	case KindPhaseFailed:
		m.phaseCalls.WithLabelValues(e.Phase, "failure").Inc()
		m.phaseDuration.WithLabelValues(e.Phase).Observe(e.Duration.Seconds())
	case KindRunFinished:
		outcome := "success"
		if e.Err != "" {
			outcome = "failure"
		}
		strategy := e.Strategy
		if strategy == "" {
			strategy = "none"
		}
		m.runs.WithLabelValues(strategy, outcome).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
