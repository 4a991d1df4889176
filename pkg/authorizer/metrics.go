package authorizer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
)

// EffectError labels decisions that ended in a hard error. It is a
// metrics label only and never appears in a [Decision].
const EffectError Effect = "Error"

// Metrics observes authorization decisions.
type Metrics interface {
	// ObserveDecision records one decision. code is empty for Allow.
	ObserveDecision(effect Effect, code sserr.Code, elapsed time.Duration)
}

// NoopMetrics discards observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveDecision(Effect, sserr.Code, time.Duration) {}

// PrometheusMetrics records decisions as Prometheus metrics:
//
//	authorizer_decisions_total{effect,code}
//	authorizer_decision_duration_seconds{effect}
type PrometheusMetrics struct {
	decisions *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the decision metrics and registers them
// with reg. If reg is nil, [prometheus.DefaultRegisterer] is used.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authorizer",
			Name:      "decisions_total",
			Help:      "Authorization decisions by effect and error code.",
		}, []string{"effect", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "authorizer",
			Name:      "decision_duration_seconds",
			Help:      "Time taken to reach an authorization decision.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"effect"}),
	}
	for _, c := range []prometheus.Collector{m.decisions, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "authorizer: failed to register metrics")
		}
	}
	return m, nil
}

// ObserveDecision implements [Metrics].
func (m *PrometheusMetrics) ObserveDecision(effect Effect, code sserr.Code, elapsed time.Duration) {
	m.decisions.WithLabelValues(string(effect), string(code)).Inc()
	m.duration.WithLabelValues(string(effect)).Observe(elapsed.Seconds())
}
