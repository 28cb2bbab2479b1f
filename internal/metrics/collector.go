// Package metrics exposes a github.com/ibemu/pib.Metrics as a
// prometheus.Collector, grounded on the rdma_exporter collector's pattern
// of wrapping live driver counters behind Desc/Collect rather than pushing
// through promauto-registered vecs at call sites.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ibemu/pib"
)

// FabricCollector implements prometheus.Collector over a *pib.Metrics
// snapshot, exporting relay, completion, and retransmit counters as a
// single scrape-time read rather than maintaining its own counter state.
type FabricCollector struct {
	metrics *pib.Metrics

	packetsRelayedDesc *prometheus.Desc
	packetsDroppedDesc *prometheus.Desc
	sendsCompletedDesc *prometheus.Desc
	sendErrorsDesc     *prometheus.Desc
	retransmitsDesc    *prometheus.Desc
	rnrNaksDesc        *prometheus.Desc
	seqErrNaksDesc     *prometheus.Desc
	cqOverflowsDesc    *prometheus.Desc
	avgLatencyDesc     *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewFabricCollector wraps m for scraping. deviceLabel identifies the
// Device these counters belong to (e.g. its GUID), attached as a constant
// label on every exported series.
func NewFabricCollector(m *pib.Metrics, deviceLabel string) *FabricCollector {
	labels := prometheus.Labels{"device": deviceLabel}
	return &FabricCollector{
		metrics: m,
		packetsRelayedDesc: prometheus.NewDesc(
			"pib_packets_relayed_total", "Total packets relayed by this device.", nil, labels),
		packetsDroppedDesc: prometheus.NewDesc(
			"pib_packets_dropped_total", "Total packets dropped by this device.", nil, labels),
		sendsCompletedDesc: prometheus.NewDesc(
			"pib_sends_completed_total", "Total send work requests completed successfully.", nil, labels),
		sendErrorsDesc: prometheus.NewDesc(
			"pib_send_errors_total", "Total send work requests completed in error.", nil, labels),
		retransmitsDesc: prometheus.NewDesc(
			"pib_retransmits_total", "Total packet retransmissions.", nil, labels),
		rnrNaksDesc: prometheus.NewDesc(
			"pib_rnr_naks_total", "Total receiver-not-ready NAKs sent.", nil, labels),
		seqErrNaksDesc: prometheus.NewDesc(
			"pib_seq_err_naks_total", "Total sequence-error NAKs sent.", nil, labels),
		cqOverflowsDesc: prometheus.NewDesc(
			"pib_cq_overflows_total", "Total completion queue overflow events.", nil, labels),
		avgLatencyDesc: prometheus.NewDesc(
			"pib_avg_completion_latency_seconds", "Average send-to-completion latency.", nil, labels),
		uptimeDesc: prometheus.NewDesc(
			"pib_uptime_seconds", "Device uptime.", nil, labels),
	}
}

// Describe sends every metric's Desc down ch, satisfying prometheus.Collector.
func (c *FabricCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsRelayedDesc
	ch <- c.packetsDroppedDesc
	ch <- c.sendsCompletedDesc
	ch <- c.sendErrorsDesc
	ch <- c.retransmitsDesc
	ch <- c.rnrNaksDesc
	ch <- c.seqErrNaksDesc
	ch <- c.cqOverflowsDesc
	ch <- c.avgLatencyDesc
	ch <- c.uptimeDesc
}

// Collect reads a fresh snapshot of the wrapped Metrics and emits it as
// prometheus samples.
func (c *FabricCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.packetsRelayedDesc, prometheus.CounterValue, float64(snap.PacketsRelayed))
	ch <- prometheus.MustNewConstMetric(c.packetsDroppedDesc, prometheus.CounterValue, float64(snap.PacketsDropped))
	ch <- prometheus.MustNewConstMetric(c.sendsCompletedDesc, prometheus.CounterValue, float64(snap.SendsCompleted))
	ch <- prometheus.MustNewConstMetric(c.sendErrorsDesc, prometheus.CounterValue, float64(snap.SendErrors))
	ch <- prometheus.MustNewConstMetric(c.retransmitsDesc, prometheus.CounterValue, float64(snap.Retransmits))
	ch <- prometheus.MustNewConstMetric(c.rnrNaksDesc, prometheus.CounterValue, float64(snap.RNRNaks))
	ch <- prometheus.MustNewConstMetric(c.seqErrNaksDesc, prometheus.CounterValue, float64(snap.SeqErrNaks))
	ch <- prometheus.MustNewConstMetric(c.cqOverflowsDesc, prometheus.CounterValue, float64(snap.CQOverflows))
	ch <- prometheus.MustNewConstMetric(c.avgLatencyDesc, prometheus.GaugeValue, float64(snap.AvgLatencyNs)/1e9)
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, float64(snap.UptimeNs)/1e9)
}

var _ prometheus.Collector = (*FabricCollector)(nil)

// NewRegistry creates a prometheus.Registry with collector registered.
func NewRegistry(collector prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	return reg
}
