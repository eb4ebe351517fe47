package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry

	StageLatency   *prometheus.HistogramVec
	StageFailures  *prometheus.CounterVec
	Strategies     *prometheus.CounterVec
	DomainLookups  *prometheus.CounterVec
	PersistSteps   *prometheus.CounterVec
	PersistPending prometheus.GaugeFunc
}

// NewMetrics registers on a private registry so tests and multiple instances
// never collide on the default one.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Orchestrator stage latency in milliseconds.",
			Buckets:   []float64{5, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"stage"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Orchestrator stage failures by stage and kind.",
		}, []string{"stage", "kind"}),
		Strategies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_strategy_total",
			Help:      "Memory strategies selected per request.",
		}, []string{"strategy"}),
		DomainLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_lookups_total",
			Help:      "Knowledge lookups by domain and result.",
		}, []string{"domain", "result"}),
		PersistSteps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_steps_total",
			Help:      "Persistence pipeline steps by step and result.",
		}, []string{"step", "result"}),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) StageFailed(stage, kind string) {
	m.StageFailures.WithLabelValues(stage, kind).Inc()
}

func (m *Metrics) StrategySelected(strategy string) {
	m.Strategies.WithLabelValues(strategy).Inc()
}

func (m *Metrics) DomainLookup(domain string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DomainLookups.WithLabelValues(domain, result).Inc()
}

func (m *Metrics) PersistStep(step, result string) {
	m.PersistSteps.WithLabelValues(step, result).Inc()
}

// TrackPending exposes a queue depth reading as a gauge.
func (m *Metrics) TrackPending(namespace string, pending func() int) {
	m.PersistPending = promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "persist_pending_jobs",
		Help:      "Jobs waiting in the in-process persistence queue.",
	}, func() float64 { return float64(pending()) })
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
