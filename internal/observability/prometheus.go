package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "retrier"

// PrometheusMetrics implements MetricsCollector with Prometheus counters.
type PrometheusMetrics struct {
	messages   *prometheus.CounterVec
	publishes  *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

// NewPrometheusMetrics creates the counters and registers them with reg.
// A nil registerer leaves them unregistered.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Consumed messages by processing status",
		}, []string{"status"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Kafka publish calls by status",
		}, []string{"status"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_outcomes_total",
			Help:      "Retry controller pass outcomes",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_deliveries_total",
			Help:      "Delayed deliveries fired by the dispatcher",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(m.messages, m.publishes, m.outcomes, m.deliveries)
	}
	return m
}

func (m *PrometheusMetrics) IncPublished()      { m.publishes.WithLabelValues("ok").Inc() }
func (m *PrometheusMetrics) IncPublishFailed()  { m.publishes.WithLabelValues("failed").Inc() }
func (m *PrometheusMetrics) IncReceived()       { m.messages.WithLabelValues("received").Inc() }
func (m *PrometheusMetrics) IncProcessed()      { m.messages.WithLabelValues("processed").Inc() }
func (m *PrometheusMetrics) IncFailed()         { m.messages.WithLabelValues("failed").Inc() }
func (m *PrometheusMetrics) IncRetryScheduled() { m.outcomes.WithLabelValues("scheduled").Inc() }
func (m *PrometheusMetrics) IncQuarantined()    { m.outcomes.WithLabelValues("quarantined").Inc() }
func (m *PrometheusMetrics) IncMalformed()      { m.outcomes.WithLabelValues("malformed").Inc() }
func (m *PrometheusMetrics) IncScheduleFailed() { m.outcomes.WithLabelValues("schedule_failed").Inc() }
func (m *PrometheusMetrics) IncSinkFailed()     { m.outcomes.WithLabelValues("sink_failed").Inc() }
func (m *PrometheusMetrics) IncFired()          { m.deliveries.WithLabelValues("fired").Inc() }
func (m *PrometheusMetrics) IncFireFailed()     { m.deliveries.WithLabelValues("failed").Inc() }
