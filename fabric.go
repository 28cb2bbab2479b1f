package pib

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/ibemu/pib/internal/logging"
	"github.com/ibemu/pib/internal/mcast"
	"github.com/ibemu/pib/internal/switchcore"
	"github.com/ibemu/pib/internal/wire"
	"github.com/ibemu/pib/internal/worker"
)

// FabricOptions configures a Fabric at creation time.
type FabricOptions struct {
	Context context.Context
	Logger  *logging.Logger

	// NumPorts is the switch's total port count, management port 0
	// included (default DefaultSwitchPorts).
	NumPorts int

	// ListenAddr is the local address each port's UDP socket binds to.
	ListenAddr string

	NodeDescription string
	SystemImageGUID uint64
	NodeGUID        uint64
	VendorID        uint32
	DeviceID        uint16
}

// Fabric is the emulated switch (spec §4.7) assembled with real per-port
// UDP sockets and a single worker goroutine, the switch-side counterpart
// to Device: every piece of state is built before any goroutine starts
// serving.
type Fabric struct {
	ID uint32

	sw        *switchcore.Switch
	transport *switchcore.Transport

	ports     []*net.UDPConn
	portAddrs []*net.UDPAddr
	sockets   map[uint8]*switchcore.PortSocket

	worker *worker.Worker
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	incoming chan incomingDatagram

	logger  *logging.Logger
	started bool

	sessMu   sync.Mutex
	sessions map[uint8]deviceSession
	retired  map[uint8]map[[16]byte]bool
}

// deviceSession is the switch's record of the last device session seen
// self-announcing on a port, per spec §12's registration handshake.
type deviceSession struct {
	id           [16]byte
	addr         *net.UDPAddr
	registeredAt time.Time
}

const defaultSwitchHorizon = 10 * time.Millisecond

// DefaultSwitchPorts is the management port plus a modest default fabric
// fan-out, used when FabricOptions.NumPorts is left zero.
const DefaultSwitchPorts = 8

// maxUnicastLID is the last LID before the multicast range begins.
const maxUnicastLID = MCastLIDBase - 1

// mtuCapEncoding is the PortInfo MTUCap value advertised for every port;
// this emulator carries a single fixed MaxMTU rather than IBTA's full
// 256/512/.../4096 enum, so it always reports the code for 4096.
const mtuCapEncoding = 5

// CreateFabric binds NumPorts UDP sockets and starts the switch's worker
// goroutine.
func CreateFabric(id uint32, opts *FabricOptions) (*Fabric, error) {
	if opts == nil {
		opts = &FabricOptions{}
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	numPorts := opts.NumPorts
	if numPorts == 0 {
		numPorts = DefaultSwitchPorts
	}
	listenAddr := opts.ListenAddr
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	sw := switchcore.New(numPorts, switchcore.AttributeRegistry{})
	sw.Attrs = defaultAttributeRegistry(opts, numPorts, sw)

	f := &Fabric{
		ID:       id,
		sw:       sw,
		sockets:  make(map[uint8]*switchcore.PortSocket),
		logger:   logger,
		incoming: make(chan incomingDatagram, 256),
		sessions: make(map[uint8]deviceSession),
		retired:  make(map[uint8]map[[16]byte]bool),
	}
	sw.Registrar = f
	f.ctx, f.cancel = context.WithCancel(ctx)

	for i := 0; i < numPorts; i++ {
		addr, err := net.ResolveUDPAddr("udp", listenAddr)
		if err != nil {
			f.closePorts()
			return nil, WrapError("CreateFabric", err)
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			f.closePorts()
			return nil, WrapError("CreateFabric", err)
		}
		f.ports = append(f.ports, conn)
		portAddr := conn.LocalAddr().(*net.UDPAddr)
		f.portAddrs = append(f.portAddrs, portAddr)
		f.sockets[uint8(i)] = &switchcore.PortSocket{Conn: conn}
	}
	f.transport = switchcore.NewTransport(sw, f.sockets)

	f.worker = worker.New(worker.Config{
		OnRecv:          f.drainOneDatagram,
		OnSchedulerPass: func(now int64) int64 { return now + int64(defaultSwitchHorizon) },
	})

	for i, conn := range f.ports {
		f.wg.Add(1)
		go f.readLoop(uint8(i), conn)
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.worker.Run(f.ctx)
	}()

	f.started = true
	f.logger.Info("fabric created", "id", id, "ports", numPorts)
	return f, nil
}

func defaultAttributeRegistry(opts *FabricOptions, numPorts int, sw *switchcore.Switch) switchcore.AttributeRegistry {
	nodeDesc := switchcore.NodeDescriptionHandler{}
	copy(nodeDesc.Description[:], opts.NodeDescription)

	ports := make(map[uint32]*switchcore.PortState, numPorts+1)
	for p := 0; p <= numPorts; p++ {
		ports[uint32(p)] = &switchcore.PortState{PortState: 4, MTUCap: mtuCapEncoding}
	}

	reg := switchcore.AttributeRegistry{
		switchcore.AttrNodeDescription: &nodeDesc,
		switchcore.AttrNodeInfo: &switchcore.NodeInfoHandler{
			SystemImageGUID: opts.SystemImageGUID,
			NodeGUID:        opts.NodeGUID,
			VendorID:        opts.VendorID,
			DeviceID:        opts.DeviceID,
			NumPorts:        uint8(numPorts),
		},
		switchcore.AttrSwitchInfo: &switchcore.SwitchInfoHandler{
			LinearFDBCap:    maxUnicastLID,
			MulticastFDBCap: maxUnicastLID,
			LifeTimeValue:   18,
		},
		switchcore.AttrGUIDInfo:  &switchcore.GUIDInfoHandler{},
		switchcore.AttrPortInfo: &switchcore.PortInfoHandler{Ports: ports},
		switchcore.AttrPKeyTable: &switchcore.PKeyTableHandler{},
		switchcore.AttrSLToVL:    &switchcore.SLToVLHandler{},
		switchcore.AttrVLArb:     &switchcore.VLArbHandler{},
		switchcore.AttrLinearFwdTable: &switchcore.LinearFwdTableHandler{Table: sw},
		switchcore.AttrRandomFwdTable: &switchcore.RandomFwdTableHandler{},
		switchcore.AttrPortCounters:   &switchcore.PortCountersHandler{Table: sw.PMA},
	}
	return reg
}

// PortAddr returns the bound local address of port i.
func (f *Fabric) PortAddr(port uint8) *net.UDPAddr {
	if int(port) >= len(f.portAddrs) {
		return nil
	}
	return f.portAddrs[port]
}

// RegisterRemote records the remote socket address a device's port was
// learned at, e.g. once a host has announced itself out-of-band.
func (f *Fabric) RegisterRemote(port uint8, addr *net.UDPAddr) {
	f.sw.Register(port, addr)
}

// RegisterDevice implements switchcore.DeviceRegistrar, accepting a
// device's self-announced port endpoint (spec §12's registration
// handshake). id is the device's session UUID, minted fresh by every
// CreateDevice call.
//
// A differing id supersedes whatever session currently holds the port
// (the expected shape of a device restart, which mints a fresh UUID) and
// retires the old one. A registration bearing an id already retired on
// that port is rejected: it can only be a stray or delayed duplicate from
// a session that has since been superseded.
func (f *Fabric) RegisterDevice(port uint8, id [16]byte, addr *net.UDPAddr) bool {
	f.sessMu.Lock()
	defer f.sessMu.Unlock()

	if f.retired[port][id] {
		return false
	}
	if cur, ok := f.sessions[port]; ok && cur.id != id {
		if f.retired[port] == nil {
			f.retired[port] = make(map[[16]byte]bool)
		}
		f.retired[port][cur.id] = true
	}
	f.sessions[port] = deviceSession{id: id, addr: addr, registeredAt: time.Now()}
	f.sw.Register(port, addr)
	return true
}

// SetRoute installs a unicast forwarding entry directly, bypassing SMP —
// useful for static point-to-point test topologies.
func (f *Fabric) SetRoute(lid uint16, port uint8) {
	f.sw.SetRoute(lid, port)
}

// MulticastTable exposes the switch's MLID forwarding table.
func (f *Fabric) MulticastTable() *mcast.SwitchTable {
	return f.sw.MulticastTable()
}

func (f *Fabric) closePorts() {
	for _, conn := range f.ports {
		_ = conn.Close()
	}
}

// readLoop learns each ingress port's remote endpoint from the UDP source
// address of each datagram received on it, the latest source winning (spec §4.7's "port-to-socket
// binding" — a real fabric has no separate discovery step since the source
// address IS the binding).
func (f *Fabric) readLoop(port uint8, conn *net.UDPConn) {
	defer f.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-f.ctx.Done():
				return
			default:
				continue
			}
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		select {
		case f.incoming <- incomingDatagram{port: port, raw: raw}:
			f.sw.Register(port, from)
			f.worker.SignalRecv()
		case <-f.ctx.Done():
			return
		}
	}
}

func (f *Fabric) drainOneDatagram() bool {
	select {
	case dg := <-f.incoming:
		f.handleDatagram(dg)
		return true
	default:
		return false
	}
}

func (f *Fabric) handleDatagram(dg incomingDatagram) {
	pkt, err := wire.Parse(dg.raw)
	if err != nil {
		return
	}
	// The diagnostic footer is stripped before relay.
	raw := dg.raw
	if pkt.Footer != nil {
		pkt.Footer = nil
		if raw, err = wire.Emit(pkt); err != nil {
			return
		}
	}
	action := f.sw.Relay(dg.port, pkt, raw)
	f.transport.Send(action)
}

// Close stops the fabric's worker and closes every port socket.
func (f *Fabric) Close() error {
	if !f.started {
		return nil
	}
	f.cancel()
	f.worker.Stop()
	f.closePorts()
	f.wg.Wait()
	f.started = false
	f.logger.Info("fabric closed", "id", f.ID)
	return nil
}
