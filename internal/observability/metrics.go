package observability

import (
	"sync/atomic"
)

// MetricsCollector provides hooks for metrics collection.
// InMemoryMetrics backs tests and cmd/producer; PrometheusMetrics backs the
// retrier and processor, exported on /metrics.
type MetricsCollector interface {
	// transport
	IncPublished()
	IncPublishFailed()
	IncReceived()
	IncProcessed()
	IncFailed()

	// retry controller
	IncRetryScheduled()
	IncQuarantined()
	IncMalformed()
	IncScheduleFailed()
	IncSinkFailed()

	// dispatcher
	IncFired()
	IncFireFailed()
}

// InMemoryMetrics is a simple in-memory implementation for testing/demo
type InMemoryMetrics struct {
	Published      atomic.Int64
	PublishFailed  atomic.Int64
	Received       atomic.Int64
	Processed      atomic.Int64
	Failed         atomic.Int64
	RetryScheduled atomic.Int64
	Quarantined    atomic.Int64
	Malformed      atomic.Int64
	ScheduleFailed atomic.Int64
	SinkFailed     atomic.Int64
	Fired          atomic.Int64
	FireFailed     atomic.Int64
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

func (m *InMemoryMetrics) IncPublished()      { m.Published.Add(1) }
func (m *InMemoryMetrics) IncPublishFailed()  { m.PublishFailed.Add(1) }
func (m *InMemoryMetrics) IncReceived()       { m.Received.Add(1) }
func (m *InMemoryMetrics) IncProcessed()      { m.Processed.Add(1) }
func (m *InMemoryMetrics) IncFailed()         { m.Failed.Add(1) }
func (m *InMemoryMetrics) IncRetryScheduled() { m.RetryScheduled.Add(1) }
func (m *InMemoryMetrics) IncQuarantined()    { m.Quarantined.Add(1) }
func (m *InMemoryMetrics) IncMalformed()      { m.Malformed.Add(1) }
func (m *InMemoryMetrics) IncScheduleFailed() { m.ScheduleFailed.Add(1) }
func (m *InMemoryMetrics) IncSinkFailed()     { m.SinkFailed.Add(1) }
func (m *InMemoryMetrics) IncFired()          { m.Fired.Add(1) }
func (m *InMemoryMetrics) IncFireFailed()     { m.FireFailed.Add(1) }

func (m *InMemoryMetrics) GetPublished() int64 {
	return m.Published.Load()
}

func (m *InMemoryMetrics) GetPublishFailed() int64 {
	return m.PublishFailed.Load()
}

func (m *InMemoryMetrics) GetReceived() int64 {
	return m.Received.Load()
}

func (m *InMemoryMetrics) GetProcessed() int64 {
	return m.Processed.Load()
}

func (m *InMemoryMetrics) GetFailed() int64 {
	return m.Failed.Load()
}

func (m *InMemoryMetrics) GetRetryScheduled() int64 {
	return m.RetryScheduled.Load()
}

func (m *InMemoryMetrics) GetQuarantined() int64 {
	return m.Quarantined.Load()
}

func (m *InMemoryMetrics) GetMalformed() int64 {
	return m.Malformed.Load()
}

func (m *InMemoryMetrics) GetScheduleFailed() int64 {
	return m.ScheduleFailed.Load()
}

func (m *InMemoryMetrics) GetSinkFailed() int64 {
	return m.SinkFailed.Load()
}

func (m *InMemoryMetrics) GetFired() int64 {
	return m.Fired.Load()
}

func (m *InMemoryMetrics) GetFireFailed() int64 {
	return m.FireFailed.Load()
}
