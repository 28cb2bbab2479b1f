package pib

import (
	"testing"
	"time"
)

func TestMetricsInitialState(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	if snap.PacketsRelayed != 0 || snap.PacketsDropped != 0 {
		t.Errorf("expected zero counters at start, got %+v", snap)
	}
}

func TestMetricsRecordRelay(t *testing.T) {
	m := NewMetrics()
	m.RecordRelay(false)
	m.RecordRelay(false)
	m.RecordRelay(true)

	snap := m.Snapshot()
	if snap.PacketsRelayed != 2 {
		t.Errorf("expected 2 relayed, got %d", snap.PacketsRelayed)
	}
	if snap.PacketsDropped != 1 {
		t.Errorf("expected 1 dropped, got %d", snap.PacketsDropped)
	}
}

func TestMetricsRecordCompletion(t *testing.T) {
	m := NewMetrics()
	m.RecordCompletion(1_000_000, true)
	m.RecordCompletion(2_000_000, true)
	m.RecordCompletion(500_000, false)

	snap := m.Snapshot()
	if snap.SendsCompleted != 2 {
		t.Errorf("expected 2 completions, got %d", snap.SendsCompleted)
	}
	if snap.SendErrors != 1 {
		t.Errorf("expected 1 error, got %d", snap.SendErrors)
	}
	expectedAvg := uint64((1_000_000 + 2_000_000 + 500_000) / 3)
	if snap.AvgLatencyNs != expectedAvg {
		t.Errorf("expected avg latency %d, got %d", expectedAvg, snap.AvgLatencyNs)
	}
}

func TestMetricsRecordNaksAndRetransmits(t *testing.T) {
	m := NewMetrics()
	m.RecordRetransmit()
	m.RecordRNRNak()
	m.RecordRNRNak()
	m.RecordSeqErrNak()
	m.RecordCQOverflow()

	snap := m.Snapshot()
	if snap.Retransmits != 1 {
		t.Errorf("expected 1 retransmit, got %d", snap.Retransmits)
	}
	if snap.RNRNaks != 2 {
		t.Errorf("expected 2 RNR naks, got %d", snap.RNRNaks)
	}
	if snap.SeqErrNaks != 1 {
		t.Errorf("expected 1 seq err nak, got %d", snap.SeqErrNaks)
	}
	if snap.CQOverflows != 1 {
		t.Errorf("expected 1 cq overflow, got %d", snap.CQOverflows)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*uint64(time.Millisecond) {
		t.Errorf("expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+uint64(2*time.Millisecond) {
		t.Errorf("uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRelay(false)
	m.RecordCompletion(1000, true)

	if snap := m.Snapshot(); snap.PacketsRelayed == 0 {
		t.Fatal("expected nonzero counters before reset")
	}

	m.Reset()
	snap := m.Snapshot()
	if snap.PacketsRelayed != 0 || snap.SendsCompleted != 0 || snap.AvgLatencyNs != 0 {
		t.Errorf("expected zeroed counters after reset, got %+v", snap)
	}
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveRelay(true)
	o.ObserveCompletion(1000, true)
	o.ObserveRetransmit()
	o.ObserveRNRNak()
	o.ObserveSeqErrNak()
	o.ObserveCQOverflow()
}

func TestMetricsObserverForwardsToMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveRelay(false)
	o.ObserveCompletion(1000, true)
	o.ObserveRetransmit()

	snap := m.Snapshot()
	if snap.PacketsRelayed != 1 {
		t.Errorf("expected 1 relay recorded via observer, got %d", snap.PacketsRelayed)
	}
	if snap.SendsCompleted != 1 {
		t.Errorf("expected 1 completion recorded via observer, got %d", snap.SendsCompleted)
	}
	if snap.Retransmits != 1 {
		t.Errorf("expected 1 retransmit recorded via observer, got %d", snap.Retransmits)
	}
}
