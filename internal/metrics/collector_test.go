package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ibemu/pib"
)

func TestFabricCollectorExportsCounters(t *testing.T) {
	m := pib.NewMetrics()
	m.RecordRelay(false)
	m.RecordRelay(false)
	m.RecordRelay(true)
	m.RecordRetransmit()

	reg := NewRegistry(NewFabricCollector(m, "dev-0"))

	expected := `
# HELP pib_packets_relayed_total Total packets relayed by this device.
# TYPE pib_packets_relayed_total counter
pib_packets_relayed_total{device="dev-0"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "pib_packets_relayed_total"); err != nil {
		t.Fatalf("unexpected metric output: %v", err)
	}
}

func TestFabricCollectorDroppedCount(t *testing.T) {
	m := pib.NewMetrics()
	m.RecordRelay(true)

	reg := NewRegistry(NewFabricCollector(m, "dev-1"))

	expected := `
# HELP pib_packets_dropped_total Total packets dropped by this device.
# TYPE pib_packets_dropped_total counter
pib_packets_dropped_total{device="dev-1"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "pib_packets_dropped_total"); err != nil {
		t.Fatalf("unexpected metric output: %v", err)
	}
}
