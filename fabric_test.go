package pib

import (
	"net"
	"testing"
	"time"

	"github.com/ibemu/pib/internal/wire"
)

func TestFabricRelaysUnicastByLearnedPort(t *testing.T) {
	fab, err := CreateFabric(1, &FabricOptions{NumPorts: 2, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("CreateFabric: %v", err)
	}
	defer fab.Close()

	fab.SetRoute(0x0005, 1)

	// A bystander socket standing in for whatever is attached to port 1,
	// observing what the switch relays once the route is installed.
	relayConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer relayConn.Close()
	fab.RegisterRemote(1, relayConn.LocalAddr().(*net.UDPAddr))

	senderConn, err := net.DialUDP("udp", nil, fab.PortAddr(0))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer senderConn.Close()

	bth := wire.BTH{}
	bth.SetDestQP(5) // non-management QP: ordinary data relay, not SMP
	bth.SetPSN(false, 1)
	pkt := &wire.Packet{
		LRH:     wire.LRH{DLID: 0x0005, SLID: 0x0001},
		BTH:     bth,
		Payload: []byte("datagram"),
	}
	raw, err := wire.Emit(pkt)
	if err != nil {
		t.Fatalf("wire.Emit: %v", err)
	}
	if _, err := senderConn.Write(raw); err != nil {
		t.Fatalf("Write: %v", err)
	}

	relayConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := relayConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected relayed datagram, got error: %v", err)
	}
	relayed, err := wire.Parse(buf[:n])
	if err != nil {
		t.Fatalf("wire.Parse relayed: %v", err)
	}
	if string(relayed.Payload) != "datagram" {
		t.Errorf("expected payload %q, got %q", "datagram", relayed.Payload)
	}
}

func TestFabricDropsUnroutedDestination(t *testing.T) {
	fab, err := CreateFabric(2, &FabricOptions{NumPorts: 2, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("CreateFabric: %v", err)
	}
	defer fab.Close()

	if snap := fab.sw.PMA.Snapshot(0); snap.XmitDiscards != 0 {
		t.Fatalf("expected zero discards before traffic, got %d", snap.XmitDiscards)
	}

	senderConn, err := net.DialUDP("udp", nil, fab.PortAddr(0))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer senderConn.Close()

	bth := wire.BTH{}
	bth.SetDestQP(5)
	pkt := &wire.Packet{LRH: wire.LRH{DLID: 0x00FF}, BTH: bth, Payload: []byte("xxxx")}
	raw, err := wire.Emit(pkt)
	if err != nil {
		t.Fatalf("wire.Emit: %v", err)
	}
	if _, err := senderConn.Write(raw); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if fab.sw.PMA.Snapshot(0).XmitDiscards > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the unrouted datagram to be counted as a discard")
}

func TestFabricRegisterDeviceHandshake(t *testing.T) {
	fab, err := CreateFabric(4, &FabricOptions{NumPorts: 2, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("CreateFabric: %v", err)
	}
	defer fab.Close()

	dev, err := CreateDevice(1, &Options{NumPorts: 1, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	defer dev.Close()

	if err := dev.AnnounceToFabric(0, fab.PortAddr(1)); err != nil {
		t.Fatalf("AnnounceToFabric: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := fab.sw.Endpoint(1); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	ep, ok := fab.sw.Endpoint(1)
	if !ok {
		t.Fatal("expected the device's port to be registered after announcing")
	}
	if ep.Addr.Port != dev.PortAddr(0).Port {
		t.Errorf("expected registered port %d, got %d", dev.PortAddr(0).Port, ep.Addr.Port)
	}

	// A second announce carrying a fresh (simulated-restart) session UUID
	// supersedes the first; the first's UUID is then rejected as stale.
	firstID := [16]byte(dev.sessionID)
	dev2, err := CreateDevice(2, &Options{NumPorts: 1, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	defer dev2.Close()
	if err := dev2.AnnounceToFabric(0, fab.PortAddr(1)); err != nil {
		t.Fatalf("AnnounceToFabric: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ep, ok := fab.sw.Endpoint(1); ok && ep.Addr.Port == dev2.PortAddr(0).Port {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if fab.RegisterDevice(1, firstID, dev.PortAddr(0)) {
		t.Error("expected the superseded session's UUID to be rejected as stale")
	}
}

func TestFabricNodeDescriptionSMP(t *testing.T) {
	fab, err := CreateFabric(3, &FabricOptions{
		NumPorts:        2,
		ListenAddr:      "127.0.0.1:0",
		NodeDescription: "test-switch",
	})
	if err != nil {
		t.Fatalf("CreateFabric: %v", err)
	}
	defer fab.Close()

	var want [64]byte
	copy(want[:], "test-switch")
	got, status := fab.sw.Attrs.Dispatch(0x01 /* MethodGet */, 0x0010 /* AttrNodeDescription */, 0, [64]byte{})
	if status != 0 {
		t.Errorf("expected OK status, got %#x", status)
	}
	if got != want {
		t.Errorf("expected node description %q, got %q", want, got)
	}
}
