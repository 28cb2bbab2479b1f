package switchcore

import (
	"testing"

	"github.com/ibemu/pib/internal/wire"
)

func samplePacket(dlid uint16, destQP uint32) *wire.Packet {
	bth := wire.BTH{}
	bth.SetDestQP(destQP)
	return &wire.Packet{
		LRH:     wire.LRH{DLID: dlid},
		BTH:     bth,
		Payload: []byte{},
	}
}

func TestRelayUnicastForwardsToRoutedPort(t *testing.T) {
	sw := New(4, AttributeRegistry{})
	sw.SetRoute(7, 2)
	pkt := samplePacket(7, 42)
	action := sw.Relay(1, pkt, []byte{0, 0, 0, 0})
	if len(action.OutPorts) != 1 || action.OutPorts[0] != 2 {
		t.Fatalf("expected relay to port 2, got %+v", action.OutPorts)
	}
}

func TestRelayUnicastDropsUnknownRoute(t *testing.T) {
	sw := New(4, AttributeRegistry{})
	pkt := samplePacket(99, 42)
	action := sw.Relay(1, pkt, []byte{0, 0, 0, 0})
	if len(action.OutPorts) != 0 {
		t.Fatalf("expected drop, got %+v", action.OutPorts)
	}
}

func TestRelayDropsPacketsAddressedToSwitchItself(t *testing.T) {
	sw := New(4, AttributeRegistry{})
	pkt := samplePacket(SwitchLID, 42)
	action := sw.Relay(1, pkt, []byte{0, 0, 0, 0})
	if len(action.OutPorts) != 0 {
		t.Fatalf("expected drop for self-addressed unicast, got %+v", action.OutPorts)
	}
}

func TestRelayMulticastFansOutExcludingIngress(t *testing.T) {
	sw := New(4, AttributeRegistry{})
	sw.mcastTbl.SetPort(0, 1, true)
	sw.mcastTbl.SetPort(0, 2, true)
	sw.mcastTbl.SetPort(0, 3, true)

	pkt := samplePacket(MCastLIDBase, 42)
	action := sw.Relay(1, pkt, []byte{0, 0, 0, 0})

	want := map[uint8]bool{2: true, 3: true}
	if len(action.OutPorts) != len(want) {
		t.Fatalf("expected 2 fan-out ports, got %+v", action.OutPorts)
	}
	for _, p := range action.OutPorts {
		if !want[p] {
			t.Fatalf("unexpected port %d in fan-out", p)
		}
	}
}

func TestRelayLIDRoutedSMPHandledLocally(t *testing.T) {
	desc := &NodeDescriptionHandler{}
	copy(desc.Description[:], "test-switch")
	reg := AttributeRegistry{AttrNodeDescription: desc}
	sw := New(4, reg)

	smp := &DRSMP{Class: ClassSubnLIDRouted, Method: MethodGet, Attribute: AttrNodeDescription}
	payload := EncodeDRSMP(smp)
	pkt := &wire.Packet{LRH: wire.LRH{DLID: SwitchLID}, Payload: payload}
	pkt.BTH.SetDestQP(QP0)

	action := sw.Relay(0, pkt, append([]byte{}, payload...))
	if len(action.OutPorts) != 1 || action.OutPorts[0] != 0 {
		t.Fatalf("expected reply on ingress port 0, got %+v", action.OutPorts)
	}

	got, err := wire.Parse(action.Payload)
	if err != nil {
		t.Fatalf("reply did not parse: %v", err)
	}
	gotSMP := ParseDRSMP(got.Payload)
	if string(gotSMP.Data[:11]) != "test-switch" {
		t.Fatalf("expected echoed node description, got %q", gotSMP.Data[:11])
	}
}

func TestRelayLIDRoutedSMPForwardedWhenNotLocal(t *testing.T) {
	sw := New(4, AttributeRegistry{})
	sw.SetRoute(5, 2)

	smp := &DRSMP{Class: ClassSubnLIDRouted, Method: MethodGet, Attribute: AttrNodeInfo}
	payload := EncodeDRSMP(smp)
	pkt := &wire.Packet{LRH: wire.LRH{DLID: 5}, Payload: payload}
	pkt.BTH.SetDestQP(QP1)

	action := sw.Relay(0, pkt, append([]byte{}, payload...))
	if len(action.OutPorts) != 1 || action.OutPorts[0] != 2 {
		t.Fatalf("expected forward to routed port 2, got %+v", action.OutPorts)
	}
}

func TestPMACountersBumpedOnRelay(t *testing.T) {
	sw := New(4, AttributeRegistry{})
	sw.SetRoute(7, 2)
	pkt := samplePacket(7, 42)
	sw.Relay(1, pkt, []byte{0, 0, 0, 0})

	rx := sw.PMA.Snapshot(1)
	if rx.RcvPkts != 1 {
		t.Fatalf("expected ingress rcv_packets=1, got %d", rx.RcvPkts)
	}
	tx := sw.PMA.Snapshot(2)
	if tx.XmitPkts != 1 {
		t.Fatalf("expected egress xmit_packets=1, got %d", tx.XmitPkts)
	}
}
