package switchcore

import "sync/atomic"

// PortCounters are the PMA per-port counters of spec §4.7's supplement:
// bumped on every relay through a port, not only when a PMA GET reads
// them, so a management tool that never polls still sees accurate totals
// once it does.
type PortCounters struct {
	XmitData  atomic.Uint64
	RcvData   atomic.Uint64
	XmitPkts  atomic.Uint64
	RcvPkts   atomic.Uint64
	XmitDiscards atomic.Uint64
}

// PMATable holds per-port counters for a switch's full port range,
// indexed 0 (the switch's own management port) through NumPorts.
type PMATable struct {
	ports []PortCounters
}

// NewPMATable allocates counters for numPorts+1 ports (0 included).
func NewPMATable(numPorts int) *PMATable {
	return &PMATable{ports: make([]PortCounters, numPorts+1)}
}

func (t *PMATable) counters(port uint8) *PortCounters {
	if int(port) >= len(t.ports) {
		return nil
	}
	return &t.ports[port]
}

// RecordRx bumps ingress counters for a relayed packet of n bytes.
func (t *PMATable) RecordRx(port uint8, n int) {
	if c := t.counters(port); c != nil {
		c.RcvPkts.Add(1)
		c.RcvData.Add(uint64(n))
	}
}

// RecordTx bumps egress counters for a relayed packet of n bytes.
func (t *PMATable) RecordTx(port uint8, n int) {
	if c := t.counters(port); c != nil {
		c.XmitPkts.Add(1)
		c.XmitData.Add(uint64(n))
	}
}

// RecordDiscard bumps the discard counter for a packet the relay dropped
// (e.g. no route, a DLID equal to the switch's own LID, a multicast group
// with no egress port other than the ingress, or an SMP it does not
// forward).
func (t *PMATable) RecordDiscard(port uint8) {
	if c := t.counters(port); c != nil {
		c.XmitDiscards.Add(1)
	}
}

// Snapshot reads port's counters as a plain struct, for the PortCounters
// PMA attribute GET.
type Snapshot struct {
	XmitData, RcvData, XmitPkts, RcvPkts, XmitDiscards uint64
}

func (t *PMATable) Snapshot(port uint8) Snapshot {
	c := t.counters(port)
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		XmitData:     c.XmitData.Load(),
		RcvData:      c.RcvData.Load(),
		XmitPkts:     c.XmitPkts.Load(),
		RcvPkts:      c.RcvPkts.Load(),
		XmitDiscards: c.XmitDiscards.Load(),
	}
}

// PortCountersHandler exposes a PMATable port's counters as a GET-only
// subnet-management attribute (PortCounters, class PerfMgmt in the real
// IBTA split; folded into the SMP attribute space here, since this
// emulator does not model a separate PerfMgmt MAD class).
type PortCountersHandler struct {
	Table *PMATable
}

func (h *PortCountersHandler) Get(attrMod uint32) (out [64]byte, status uint16) {
	s := h.Table.Snapshot(uint8(attrMod))
	putBE64(out[0:], s.XmitData)
	putBE64(out[8:], s.RcvData)
	putBE64(out[16:], s.XmitPkts)
	putBE64(out[24:], s.RcvPkts)
	putBE64(out[32:], s.XmitDiscards)
	return out, StatusOK
}

func (h *PortCountersHandler) Set(_ uint32, data [64]byte) ([64]byte, uint16) {
	return data, StatusUnsupMethod
}

func putBE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> uint(56-8*i))
	}
}
