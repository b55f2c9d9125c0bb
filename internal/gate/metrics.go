package gate

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts gate outcomes.
type Metrics struct {
	prompts   *prometheus.CounterVec
	responses *prometheus.CounterVec
	replays   prometheus.Counter
	awaiting  prometheus.Gauge
}

// NewMetrics registers the gate collectors with reg. A nil reg uses a
// private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		prompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satwallet",
			Subsystem: "gate",
			Name:      "prompts_total",
			Help:      "Approval prompts by outcome.",
		}, []string{"outcome"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satwallet",
			Subsystem: "gate",
			Name:      "responses_total",
			Help:      "Bridge responses by method and code.",
		}, []string{"method", "code"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "satwallet",
			Subsystem: "gate",
			Name:      "replays_total",
			Help:      "Requests dropped because their id was already seen.",
		}),
		awaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "satwallet",
			Subsystem: "gate",
			Name:      "awaiting_approval",
			Help:      "1 while a prompt is pending.",
		}),
	}
	reg.MustRegister(m.prompts, m.responses, m.replays, m.awaiting)
	return m
}

func (m *Metrics) prompt(outcome string) { m.prompts.WithLabelValues(outcome).Inc() }

func (m *Metrics) response(method, code string) { m.responses.WithLabelValues(method, code).Inc() }
