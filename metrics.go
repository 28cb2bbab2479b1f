package pib

import (
	"sync/atomic"
	"time"
)

// Metrics tracks fabric-wide performance and operational statistics:
// relayed/dropped packets, retransmissions, NAKs, and completion-queue
// health, each field a lock-free atomic counter updated off the worker
// goroutine.
type Metrics struct {
	PacketsRelayed atomic.Uint64
	PacketsDropped atomic.Uint64

	SendsCompleted atomic.Uint64
	SendErrors     atomic.Uint64

	Retransmits   atomic.Uint64
	RNRNaks       atomic.Uint64
	SeqErrNaks    atomic.Uint64
	CQOverflows   atomic.Uint64

	TotalLatencyNs atomic.Uint64 // cumulative send-to-completion latency
	OpCount        atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a Metrics instance stamped with the current time.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) RecordRelay(dropped bool) {
	if dropped {
		m.PacketsDropped.Add(1)
	} else {
		m.PacketsRelayed.Add(1)
	}
}

func (m *Metrics) RecordCompletion(latencyNs uint64, success bool) {
	if success {
		m.SendsCompleted.Add(1)
	} else {
		m.SendErrors.Add(1)
	}
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
}

func (m *Metrics) RecordRetransmit()  { m.Retransmits.Add(1) }
func (m *Metrics) RecordRNRNak()      { m.RNRNaks.Add(1) }
func (m *Metrics) RecordSeqErrNak()   { m.SeqErrNaks.Add(1) }
func (m *Metrics) RecordCQOverflow()  { m.CQOverflows.Add(1) }

// Stop marks the fabric as stopped.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time read of Metrics.
type MetricsSnapshot struct {
	PacketsRelayed uint64
	PacketsDropped uint64
	SendsCompleted uint64
	SendErrors     uint64
	Retransmits    uint64
	RNRNaks        uint64
	SeqErrNaks     uint64
	CQOverflows    uint64
	AvgLatencyNs   uint64
	UptimeNs       uint64
}

// Snapshot reads every counter into a MetricsSnapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PacketsRelayed: m.PacketsRelayed.Load(),
		PacketsDropped: m.PacketsDropped.Load(),
		SendsCompleted: m.SendsCompleted.Load(),
		SendErrors:     m.SendErrors.Load(),
		Retransmits:    m.Retransmits.Load(),
		RNRNaks:        m.RNRNaks.Load(),
		SeqErrNaks:     m.SeqErrNaks.Load(),
		CQOverflows:    m.CQOverflows.Load(),
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}
	return snap
}

// Reset zeroes every counter and restarts the uptime clock; useful for
// test isolation between scenarios sharing one Metrics instance.
func (m *Metrics) Reset() {
	m.PacketsRelayed.Store(0)
	m.PacketsDropped.Store(0)
	m.SendsCompleted.Store(0)
	m.SendErrors.Store(0)
	m.Retransmits.Store(0)
	m.RNRNaks.Store(0)
	m.SeqErrNaks.Store(0)
	m.CQOverflows.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable collection of fabric events; the default
// MetricsObserver records into a Metrics, and internal/metrics wraps one
// more to also expose a prometheus.Registry.
type Observer interface {
	ObserveRelay(dropped bool)
	ObserveCompletion(latencyNs uint64, success bool)
	ObserveRetransmit()
	ObserveRNRNak()
	ObserveSeqErrNak()
	ObserveCQOverflow()
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRelay(bool)            {}
func (NoOpObserver) ObserveCompletion(uint64, bool) {}
func (NoOpObserver) ObserveRetransmit()           {}
func (NoOpObserver) ObserveRNRNak()                {}
func (NoOpObserver) ObserveSeqErrNak()             {}
func (NoOpObserver) ObserveCQOverflow()            {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRelay(dropped bool)              { o.metrics.RecordRelay(dropped) }
func (o *MetricsObserver) ObserveCompletion(latencyNs uint64, success bool) {
	o.metrics.RecordCompletion(latencyNs, success)
}
func (o *MetricsObserver) ObserveRetransmit() { o.metrics.RecordRetransmit() }
func (o *MetricsObserver) ObserveRNRNak()     { o.metrics.RecordRNRNak() }
func (o *MetricsObserver) ObserveSeqErrNak()  { o.metrics.RecordSeqErrNak() }
func (o *MetricsObserver) ObserveCQOverflow() { o.metrics.RecordCQOverflow() }

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
