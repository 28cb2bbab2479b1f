package switchcore

import (
	"net"
	"sync"

	"github.com/ibemu/pib/internal/mcast"
	"github.com/ibemu/pib/internal/wire"
)

// ManagementQP identifies the well-known management queue pairs every
// port demultiplexes to before unicast/multicast relay is considered.
const (
	QP0 uint32 = 0
	QP1 uint32 = 1
)

// The management classes the relay dispatches on, ClassSubnLIDRouted and
// ClassSubnDirectedRoute, are declared in smp.go.

// MCastLIDBase is the first multicast LID, per spec §3's address-table
// description ("MLID in [MCAST_BASE, MAX_LID)").
const MCastLIDBase uint16 = 0xC000

// SwitchLID is the switch's own unicast LID, reserved per spec §4.7.
const SwitchLID uint16 = 0

// RemoteEndpoint is a learned (device, port)'s UDP socket address.
type RemoteEndpoint struct {
	Addr *net.UDPAddr
}

// Switch is the emulated switch's relay and management state. It owns no
// goroutine itself; the caller drives it from a worker.Worker per spec
// §4.6's one-worker-per-device-or-switch rule.
type Switch struct {
	mu sync.RWMutex

	portCnt int
	ucast   map[uint16]uint8 // DLID -> out port
	mcastTbl *mcast.SwitchTable
	remotes map[uint8]RemoteEndpoint

	PMA   *PMATable
	Attrs AttributeRegistry

	// Registrar receives vendor registration SMPs (spec §12's device
	// registration handshake). Nil means the switch only learns remotes
	// from ordinary traffic, as the fabric's readLoop already does.
	Registrar DeviceRegistrar

	// ownLID is compared against DLID for LID-routed SMP local handling.
	ownLID uint16
}

// New creates a Switch with the given total port count (management port
// 0 included) and attribute registry.
func New(portCnt int, attrs AttributeRegistry) *Switch {
	return &Switch{
		portCnt:  portCnt,
		ucast:    make(map[uint16]uint8),
		mcastTbl: mcast.NewSwitchTable(),
		remotes:  make(map[uint8]RemoteEndpoint),
		PMA:      NewPMATable(portCnt),
		Attrs:    attrs,
		ownLID:   SwitchLID,
	}
}

// Register records the remote socket address learned for a device's port
// during subnet-management discovery (spec §4.7's "port-to-socket
// binding").
func (s *Switch) Register(port uint8, addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remotes[port] = RemoteEndpoint{Addr: addr}
}

// SetRoute installs a unicast forwarding entry, as driven by a
// LinearFwdTable SET.
func (s *Switch) SetRoute(lid uint16, port uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ucast[lid] = port
}

// MulticastTable exposes the switch's MLID forwarding table, e.g. for a
// MulticastFwdTableHandler to bind against.
func (s *Switch) MulticastTable() *mcast.SwitchTable { return s.mcastTbl }

// RelayAction is the outcome of processing one ingress datagram.
type RelayAction struct {
	// OutPorts lists the ports the datagram (possibly rewritten, in
	// Payload) should be sent out on. Empty means drop.
	OutPorts []uint8
	Payload  []byte
}

// Relay implements spec §4.7's full relay decision tree for one ingress
// datagram, including directed-route SMP walking, LID-routed SMP local
// dispatch, and unicast/multicast forwarding. pkt must already be parsed
// from raw via wire.Parse; raw is needed verbatim for non-SMP relay since
// the switch only rewrites SMP payloads.
func (s *Switch) Relay(ingress uint8, pkt *wire.Packet, raw []byte) RelayAction {
	s.PMA.RecordRx(ingress, len(raw))

	destQP := pkt.BTH.DestQP()
	if destQP == QP0 || destQP == QP1 {
		return s.relayManagement(ingress, pkt, raw)
	}

	dlid := pkt.LRH.DLID
	if dlid == s.ownLID {
		s.PMA.RecordDiscard(ingress)
		return RelayAction{}
	}

	if dlid >= MCastLIDBase {
		return s.relayMulticast(ingress, dlid, raw)
	}
	return s.relayUnicast(ingress, dlid, raw)
}

func (s *Switch) relayUnicast(ingress uint8, dlid uint16, raw []byte) RelayAction {
	s.mu.RLock()
	port, ok := s.ucast[dlid]
	s.mu.RUnlock()
	if !ok || int(port) >= s.portCnt {
		s.PMA.RecordDiscard(ingress)
		return RelayAction{}
	}
	s.PMA.RecordTx(port, len(raw))
	return RelayAction{OutPorts: []uint8{port}, Payload: raw}
}

func (s *Switch) relayMulticast(ingress uint8, dlid uint16, raw []byte) RelayAction {
	mask := s.mcastTbl.Mask(dlid - MCastLIDBase)
	ports := mcast.OutPorts(mask, ingress, s.portCnt)
	for _, p := range ports {
		s.PMA.RecordTx(p, len(raw))
	}
	if len(ports) == 0 {
		s.PMA.RecordDiscard(ingress)
	}
	return RelayAction{OutPorts: ports, Payload: raw}
}

// Endpoint returns the learned remote socket address for port, if any.
func (s *Switch) Endpoint(port uint8) (RemoteEndpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.remotes[port]
	return ep, ok
}
