package pib

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/ibemu/pib/internal/cq"
	"github.com/ibemu/pib/internal/logging"
	"github.com/ibemu/pib/internal/mcast"
	"github.com/ibemu/pib/internal/mr"
	"github.com/ibemu/pib/internal/objalloc"
	"github.com/ibemu/pib/internal/qp"
	"github.com/ibemu/pib/internal/rc"
	"github.com/ibemu/pib/internal/sched"
	"github.com/ibemu/pib/internal/switchcore"
	"github.com/ibemu/pib/internal/ud"
	"github.com/ibemu/pib/internal/wire"
	"github.com/ibemu/pib/internal/worker"

	"github.com/google/uuid"
)

// endpoint is the remote UDP address and QP number a local QP is connected
// to, established by Connect (the verbs-layer analogue of ibv_modify_qp's
// RTR transition, which spec §4.4 says requires dest_qp_num/rq_psn/…).
type endpoint struct {
	Addr      *net.UDPAddr
	DestQP    uint32
	DLID      uint16
	QKey      uint32 // UD only
}

type incomingDatagram struct {
	port uint8
	raw  []byte
}

// Options configures a Device at creation time.
type Options struct {
	// Context for cancellation (if nil, uses context.Background()).
	Context context.Context

	// Logger receives device lifecycle and protocol events.
	Logger *logging.Logger

	// Observer for metrics collection (if nil, uses NewMetricsObserver).
	Observer Observer

	// NumPorts is the number of UDP ports this device listens on
	// (default DefaultPortsPerDevice).
	NumPorts int

	// ListenAddr is the local address each port's UDP socket binds to
	// (default "127.0.0.1:0", letting the kernel choose a free port).
	ListenAddr string

	// CQDepth is the default completion-queue capacity for CreateCQ calls
	// that don't specify one (default DefaultCQDepth).
	CQDepth int

	// PathMTU bounds the payload of a single outbound packet.
	PathMTU uint32

	Allocator ObjectAllocator
	Behaviors BehaviorRegistry
	PRNG      PRNG
	Tracer    Tracer
}

// Device is one emulated RDMA device: a set of bound UDP ports, a QP/CQ
// namespace, memory region registry, and the single worker goroutine that
// serializes every mutation of that state, per spec §5's single-worker-
// per-device model.
type Device struct {
	ID uint32

	// sessionID is minted fresh every CreateDevice call and carried in
	// AnnounceToFabric's registration SMP, so a switch can tell a restarted
	// device's new session apart from a stale, already-superseded one
	// (spec §12's registration handshake).
	sessionID uuid.UUID

	ports     []*net.UDPConn
	portAddrs []*net.UDPAddr

	mu        sync.Mutex
	qps       map[uint32]*qp.QP
	cqs       map[uint32]*cq.CQ
	endpoints map[uint32]endpoint // keyed by local QP num
	sched     *sched.Index

	Regions *mr.Registry
	Mcast   *mcast.DeviceTable

	qpAlloc ObjectAllocator
	cqAlloc ObjectAllocator

	worker *worker.Worker
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	incoming chan incomingDatagram

	cqDepth int
	pathMTU uint32

	logger   *logging.Logger
	metrics  *Metrics
	observer Observer
	behaviors BehaviorRegistry
	prng      PRNG
	tracer    Tracer

	started bool
}

// CreateDevice binds NumPorts UDP sockets, wires up QP/CQ/memory-region
// namespaces, and starts the device's single worker goroutine: every piece
// of state is constructed before any goroutine starts serving.
func CreateDevice(id uint32, opts *Options) (*Device, error) {
	if opts == nil {
		opts = &Options{}
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	numPorts := opts.NumPorts
	if numPorts == 0 {
		numPorts = DefaultPortsPerDevice
	}
	listenAddr := opts.ListenAddr
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}
	cqDepth := opts.CQDepth
	if cqDepth == 0 {
		cqDepth = DefaultCQDepth
	}
	pathMTU := opts.PathMTU
	if pathMTU == 0 {
		pathMTU = MaxMTU
	}

	metrics := NewMetrics()
	observer := opts.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	allocator := opts.Allocator
	if allocator == nil {
		allocator = objalloc.New(1, 1<<20)
	}
	behaviors := opts.Behaviors
	if behaviors == nil {
		behaviors = NewStaticBehaviorRegistry()
	}
	prng := opts.PRNG
	if prng == nil {
		prng = NewPRNG(1)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = NoOpTracer{}
	}

	d := &Device{
		ID:        id,
		sessionID: uuid.New(),
		qps:       make(map[uint32]*qp.QP),
		cqs:       make(map[uint32]*cq.CQ),
		endpoints: make(map[uint32]endpoint),
		sched:     sched.NewIndex(),
		Regions:   mr.NewRegistry(),
		Mcast:     mcast.NewDeviceTable(),
		qpAlloc:   allocator,
		cqAlloc:   objalloc.New(1, 1<<20),
		cqDepth:   cqDepth,
		pathMTU:   pathMTU,
		logger:    logger,
		metrics:   metrics,
		observer:  observer,
		behaviors: behaviors,
		prng:      prng,
		tracer:    tracer,
		incoming:  make(chan incomingDatagram, 256),
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	for i := 0; i < numPorts; i++ {
		addr, err := net.ResolveUDPAddr("udp", listenAddr)
		if err != nil {
			d.closePorts()
			return nil, WrapError("CreateDevice", err)
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			d.closePorts()
			return nil, WrapError("CreateDevice", err)
		}
		d.ports = append(d.ports, conn)
		d.portAddrs = append(d.portAddrs, conn.LocalAddr().(*net.UDPAddr))
	}

	d.worker = worker.New(worker.Config{
		OnRecv:          d.drainOneDatagram,
		OnSchedulerPass: d.schedulerPass,
	})

	for i, conn := range d.ports {
		d.wg.Add(1)
		go d.readLoop(uint8(i), conn)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.worker.Run(d.ctx)
	}()

	d.started = true
	d.logger.Info("device created", "id", id, "ports", numPorts)
	return d, nil
}

// PortAddr returns the bound local address of port i, used by a caller
// (or a switch's Register call) to learn where to address this device.
func (d *Device) PortAddr(port uint8) *net.UDPAddr {
	if int(port) >= len(d.portAddrs) {
		return nil
	}
	return d.portAddrs[port]
}

// AnnounceToFabric sends a vendor registration SMP over QP0 from port,
// telling a switchcore.Switch at fabricAddr this device's session UUID and
// the sockaddr it should relay to for this port (spec §12's registration
// handshake). It is fire-and-forget: the handshake carries no reply, since
// the switch also learns remotes from the source address of any ordinary
// traffic a device sends.
func (d *Device) AnnounceToFabric(port uint8, fabricAddr *net.UDPAddr) error {
	local := d.PortAddr(port)
	if local == nil {
		return NewError("AnnounceToFabric", ErrCodeInvalidParameters, "no such port")
	}
	ip4 := local.IP.To4()
	if ip4 == nil {
		return NewError("AnnounceToFabric", ErrCodeInvalidParameters, "port address is not IPv4")
	}
	reg := switchcore.RegistrationSMP{DeviceUUID: [16]byte(d.sessionID), Port: uint16(local.Port)}
	copy(reg.IP[:], ip4)

	var bth wire.BTH
	bth.SetDestQP(switchcore.QP0)
	pkt := &wire.Packet{LRH: wire.LRH{}, BTH: bth, Payload: switchcore.EncodeRegistrationSMP(reg)}
	raw, err := wire.Emit(pkt)
	if err != nil {
		return WrapError("AnnounceToFabric", err)
	}
	d.writeToPort(port, fabricAddr, raw)
	return nil
}

// Metrics returns the device's Metrics instance.
func (d *Device) Metrics() *Metrics { return d.metrics }

// MetricsSnapshot returns a point-in-time snapshot of device metrics.
func (d *Device) MetricsSnapshot() MetricsSnapshot { return d.metrics.Snapshot() }

func (d *Device) closePorts() {
	for _, conn := range d.ports {
		_ = conn.Close()
	}
}

func (d *Device) readLoop(port uint8, conn *net.UDPConn) {
	defer d.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
				continue
			}
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		select {
		case d.incoming <- incomingDatagram{port: port, raw: raw}:
			d.worker.SignalRecv()
		case <-d.ctx.Done():
			return
		}
	}
}

// drainOneDatagram is the worker's OnRecv callback: it pops and processes
// exactly one pending datagram, reporting whether it did so, per
// worker.Config's "call repeatedly until it returns false" contract.
func (d *Device) drainOneDatagram() bool {
	select {
	case dg := <-d.incoming:
		d.handleDatagram(dg)
		return true
	default:
		return false
	}
}

func (d *Device) handleDatagram(dg incomingDatagram) {
	pkt, err := wire.Parse(dg.raw)
	if err != nil {
		d.observer.ObserveRelay(true)
		return
	}

	destQP := pkt.BTH.DestQP()
	d.mu.Lock()
	q, ok := d.qps[destQP]
	d.mu.Unlock()
	if !ok {
		d.observer.ObserveRelay(true)
		return
	}

	q.Mu.Lock()
	defer q.Mu.Unlock()

	switch q.Type {
	case qp.TypeRC:
		d.handleRCDatagram(q, pkt)
	case qp.TypeUD:
		d.handleUDDatagram(q, pkt)
	}

	wake, hasWork := qpWakeTime(q, time.Now().UnixNano())
	d.updateSchedule(q.Num, wake, hasWork)
}

func (d *Device) recvCQFor(q *qp.QP) *cq.CQ {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cqs[q.RecvCQ]
}

func (d *Device) sendCQFor(q *qp.QP) *cq.CQ {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cqs[q.SendCQ]
}

func (d *Device) handleRCDatagram(q *qp.QP, pkt *wire.Packet) {
	opcode := uint32(pkt.BTH.OpCode)
	psn := pkt.BTH.PSN()

	switch pkt.BTH.OpCode {
	case wireOpAck, wireOpRDMAReadResponse, wireOpAtomicAck:
		d.handleRCResponse(q, pkt)
		return
	}

	outcome := rc.ClassifyPSN(q, psn)
	var resp rc.Response
	switch outcome {
	case rc.PSNDuplicate:
		if r, ok := rc.Replay(q, psn); ok {
			resp = r
		} else {
			resp = rc.Response{PSN: q.RespPSN}
		}
	case rc.PSNSequenceError:
		resp = rc.Response{PSN: q.RespPSN, IsNAK: true, NAKCode: rc.NAKSeqErr}
		d.observer.ObserveSeqErrNak()
	default:
		pr := parseRequestPayload(opcode, pkt.Payload)
		recvCQ := d.recvCQFor(q)
		resp = rc.HandleRequest(q, recvCQ, psn, opcode, pr.data, pr.immData, pr.withImm, pr.remoteAddr, pr.rkey, pr.swapOrAdd, pr.compareData, d.Regions.Validate, pkt.LRH.SLID, pr.seq)
		if resp.IsNAK && resp.NAKCode == rc.NAKRNR {
			d.observer.ObserveRNRNak()
		}
	}

	d.sendRCResponse(q, resp, pkt.LRH.SLID)
}

func (d *Device) sendRCResponse(q *qp.QP, resp rc.Response, slid uint16) {
	d.mu.Lock()
	ep, ok := d.endpoints[q.Num]
	d.mu.Unlock()
	if !ok {
		return
	}

	var raw []byte
	var err error
	if len(q.AckList) > 0 && !resp.IsNAK {
		head := q.AckList[0]
		q.AckList = q.AckList[1:]
		raw, err = buildReadResponsePacket(resp.PSN, head.WR.SGL, ep.DestQP, ep.DLID, slid, resp.PSN)
	} else {
		raw, err = buildResponsePacket(resp, ep.DestQP, ep.DLID, slid, resp.PSN)
	}
	if err != nil {
		return
	}
	d.writeToPort(0, ep.Addr, raw)
}

func (d *Device) handleRCResponse(q *qp.QP, pkt *wire.Packet) {
	if len(pkt.Payload) < wire.SizeRDETH+wire.SizeAETH {
		return
	}
	var aeth wire.AETH
	_ = wire.UnmarshalAETH(pkt.Payload[wire.SizeRDETH:], &aeth)

	sendCQ := d.sendCQFor(q)
	psn := pkt.BTH.PSN()

	switch aeth.Type() {
	case wire.AETHTypeNAK:
		switch aeth.Code() {
		case wire.NAKSequenceError:
			d.observer.ObserveSeqErrNak()
			q.RewindWaitingToSending()
		default:
			rc.HandleAck(q, sendCQ, psn)
		}
	default:
		rc.HandleAck(q, sendCQ, psn)
	}
}

func (d *Device) handleUDDatagram(q *qp.QP, pkt *wire.Packet) {
	_, immData, withImm, data := parseUDPayload(pkt.BTH.OpCode, pkt.Payload)
	recvCQ := d.recvCQFor(q)
	ud.Deliver(q, recvCQ, data, immData, withImm, pkt.LRH.SLID)
}

func (d *Device) writeToPort(port uint8, addr *net.UDPAddr, raw []byte) {
	if int(port) >= len(d.ports) {
		d.observer.ObserveRelay(true)
		return
	}
	if _, err := d.ports[port].WriteToUDP(raw, addr); err != nil {
		d.observer.ObserveRelay(true)
		return
	}
	d.observer.ObserveRelay(false)
}

// schedulerPass is the worker's per-iteration OnSchedulerPass callback. It
// consults the scheduler index (internal/sched) for QPs whose wake time has
// arrived rather than visiting every QP unconditionally (spec §4.3/§4.6):
// each due QP gets its sending-list head packetized/transmitted (RC) or its
// submitted-list head retired (UD), and its retransmit/RNR timers checked,
// then is rescheduled against its new state. The returned absolute wakeup
// time is the earliest remaining entry, capped at now+defaultSchedHorizon
// when the index is empty.
func (d *Device) schedulerPass(now int64) int64 {
	d.mu.Lock()
	var due []uint32
	for {
		e, ok := d.sched.First()
		if !ok || e.WakeTime > now {
			break
		}
		due = append(due, e.QPNum)
		d.sched.Reschedule(e.QPNum, false, 0)
	}
	qps := make([]*qp.QP, 0, len(due))
	for _, num := range due {
		if q, ok := d.qps[num]; ok {
			qps = append(qps, q)
		}
	}
	d.mu.Unlock()

	for _, q := range qps {
		q.Mu.Lock()
		d.servicePendingSends(q)
		if q.Type == qp.TypeRC {
			sendCQ := d.sendCQFor(q)
			if rc.CheckRetransmit(q, sendCQ, now, int64(DefaultLocalAckTimeout)) {
				d.observer.ObserveRetransmit()
			}
		}
		wake, hasWork := qpWakeTime(q, now)
		d.updateSchedule(q.Num, wake, hasWork)
		q.Mu.Unlock()
	}

	d.mu.Lock()
	next := d.sched.WakeupTime(now, int64(defaultSchedHorizon))
	d.mu.Unlock()
	return next
}

const defaultSchedHorizon = 10 * time.Millisecond

// qpWakeTime reports the earliest time q has deterministic work to perform:
// a waiting WQE's local-ack timeout, a sending WQE's schedule time (e.g.
// after an RNR delay), or "now" for a freshly submitted WQE not yet
// dispatched. Caller must hold q.Mu. Returns ok=false when q currently has
// no pending work at all.
func qpWakeTime(q *qp.QP, now int64) (wake int64, ok bool) {
	consider := func(t int64) {
		if !ok || t < wake {
			wake = t
			ok = true
		}
	}
	if len(q.Waiting) > 0 {
		consider(q.Waiting[0].LocalAckTime)
	}
	if len(q.Sending) > 0 {
		consider(q.Sending[0].ScheduleTime)
	}
	if len(q.Submitted) > 0 {
		consider(now)
	}
	return wake, ok
}

// updateSchedule records qpNum's next wake time in the scheduler index,
// or removes it when hasWork is false.
func (d *Device) updateSchedule(qpNum uint32, wake int64, hasWork bool) {
	d.mu.Lock()
	d.sched.Reschedule(qpNum, hasWork, wake)
	d.mu.Unlock()
}

// servicePendingSends drains q's sending-list head via PacketizePass (RC)
// or Dispatch+ud.Send (UD), transmitting each resulting packet.
func (d *Device) servicePendingSends(q *qp.QP) {
	d.mu.Lock()
	ep, hasEndpoint := d.endpoints[q.Num]
	sendCQ := d.cqs[q.SendCQ]
	d.mu.Unlock()
	if !hasEndpoint {
		return
	}

	now := time.Now().UnixNano()
	for q.Dispatchable(rc.IsReadOrAtomic) {
		q.Dispatch(now, int64(DefaultLocalAckTimeout), d.pathMTU, rc.IsReadOrAtomic)
	}

	switch q.Type {
	case qp.TypeRC:
		if len(q.Sending) == 0 {
			return
		}
		// PacketizePass only ever packetizes the sending-list head, so every
		// packet it returns in one call shares that WQE's remote-access
		// fields; capture them before the call since a fully-packetized WQE
		// moves off Sending (to Waiting) as a side effect.
		head := q.Sending[0].WR
		packets := rc.PacketizePass(q, d.pathMTU, 8)
		for _, pkt := range packets {
			remoteAddr := head.RemoteAddr + uint64(pkt.Offset)
			raw, err := buildRequestPacket(pkt, ep.DestQP, ep.DLID, 0, remoteAddr, head.RKey, head.SwapOrAdd, head.CompareData, head.ImmData)
			if err != nil {
				continue
			}
			d.writeToPort(0, ep.Addr, raw)
		}
	case qp.TypeUD:
		if len(q.Submitted) == 0 {
			return
		}
		wqe := q.Submitted[0]
		q.Submitted = q.Submitted[1:]
		pkt := rc.Packet{Opcode: wqe.WR.Opcode, Payload: wqe.WR.SGL}
		raw, err := buildUDPacket(pkt, ep.DestQP, q.Num, ep.QKey, ep.DLID, 0, wqe.WR.ImmData)
		if err == nil {
			d.writeToPort(0, ep.Addr, raw)
		}
		ud.Send(q, sendCQ, wqe, d.pathMTU)
	}
}

// CreateQP allocates a QP number and registers a new queue pair of the
// given type, bound to the given send/recv completion queues.
func (d *Device) CreateQP(typ qp.Type, sendCQNum, recvCQNum uint32) (*qp.QP, error) {
	num, ok := d.qpAlloc.Alloc()
	if !ok {
		return nil, NewError("CreateQP", ErrCodeInvalidParameters, "queue pair numbers exhausted")
	}
	q := qp.New(num, typ)
	q.SendCQ = sendCQNum
	q.RecvCQ = recvCQNum
	q.RetryCnt = DefaultRetryCount
	q.RNRRetry = DefaultRNRRetryCount
	q.State = qp.StateInit

	d.mu.Lock()
	d.qps[num] = q
	d.mu.Unlock()
	return q, nil
}

// DestroyQP releases a QP's number and removes it from the device,
// purging any completions it left behind on its CQs per spec §4.3.
func (d *Device) DestroyQP(num uint32) error {
	d.mu.Lock()
	q, ok := d.qps[num]
	if !ok {
		d.mu.Unlock()
		return NewQPError("DestroyQP", d.ID, num, ErrCodeQPNotFound, "no such queue pair")
	}
	delete(d.qps, num)
	delete(d.endpoints, num)
	d.sched.Reschedule(num, false, 0)
	d.sched.Forget(num)
	sendCQ := d.cqs[q.SendCQ]
	recvCQ := d.cqs[q.RecvCQ]
	d.mu.Unlock()

	if sendCQ != nil {
		sendCQ.RemoveByQP(num)
	}
	if recvCQ != nil && recvCQ != sendCQ {
		recvCQ.RemoveByQP(num)
	}
	d.qpAlloc.Release(num)
	return nil
}

// CreateCQ allocates a CQ number and registers a new completion queue of
// the given capacity (0 uses the device's configured default). Every CQ is
// given a production overflow handler (spec §4.2/§8 scenario 4) regardless
// of whether the caller supplies its own onOverflow hook; the caller's hook,
// if any, still runs alongside it.
func (d *Device) CreateCQ(capacity int, onOverflow cq.OverflowHandler) (uint32, *cq.CQ, error) {
	if capacity == 0 {
		capacity = d.cqDepth
	}
	num, ok := d.cqAlloc.Alloc()
	if !ok {
		return 0, nil, NewError("CreateCQ", ErrCodeInvalidParameters, "completion queue numbers exhausted")
	}
	c := cq.New(capacity, nil, d.cqOverflowHandler(num, onOverflow))

	d.mu.Lock()
	d.cqs[num] = c
	d.mu.Unlock()
	return num, c, nil
}

// cqOverflowHandler builds the OverflowHandler passed to cq.New: per
// internal/cq's documented contract, onOverflow must not block and must
// itself dispatch any non-trivial work through the device's deferred work
// queue rather than running inline (it is invoked synchronously, holding no
// locks, from whatever call stack triggered the overflow — which may
// already hold the very QP lock sweepCQOverflow needs). extra, if supplied
// by the caller, runs after the sweep, also deferred.
func (d *Device) cqOverflowHandler(cqNum uint32, extra cq.OverflowHandler) cq.OverflowHandler {
	return func(c *cq.CQ) {
		d.worker.Defer(func() {
			d.sweepCQOverflow(cqNum, c)
			if extra != nil {
				extra(c)
			}
		})
	}
}

// sweepCQOverflow implements spec §4.2/§8 scenario 4: when a CQ overflows,
// every QP using it as send or recv CQ transitions to ERR, its outstanding
// WQEs flush with FLUSH_ERR completions, and a CQ_ERR async event fires.
// Runs on the worker's deferred queue (see cqOverflowHandler), never inline
// from within a QP's own lock.
func (d *Device) sweepCQOverflow(cqNum uint32, overflowed *cq.CQ) {
	d.mu.Lock()
	var affected []*qp.QP
	for _, q := range d.qps {
		if q.SendCQ == cqNum || q.RecvCQ == cqNum {
			affected = append(affected, q)
		}
	}
	d.mu.Unlock()

	for _, q := range affected {
		q.Mu.Lock()
		flushed := q.FlushToErr(rc.WCFlushErr)
		sendCQ := d.sendCQFor(q)
		q.Mu.Unlock()

		if sendCQ != nil && sendCQ != overflowed {
			for _, w := range flushed {
				if !w.WR.Signaled {
					continue
				}
				_ = sendCQ.InsertSuccess(cq.WC{WRID: w.WR.WRID, QPNum: q.Num, Status: rc.WCFlushErr}, false)
			}
		}
	}

	d.observer.ObserveCQOverflow()
	d.tracer.Trace("cq_err", map[string]any{"device_id": d.ID, "cq_num": cqNum})
}

// DestroyCQ releases a CQ's number and removes it from the device.
func (d *Device) DestroyCQ(num uint32) error {
	d.mu.Lock()
	_, ok := d.cqs[num]
	if !ok {
		d.mu.Unlock()
		return NewError("DestroyCQ", ErrCodeInvalidParameters, "no such completion queue")
	}
	delete(d.cqs, num)
	d.mu.Unlock()
	d.cqAlloc.Release(num)
	return nil
}

// Connect establishes the remote endpoint a local QP sends to: address,
// remote QP number, and destination LID. This is the emulator's stand-in
// for the dest_qp_num/ah_attr fields ibv_modify_qp sets on the RTR
// transition (spec §4.4), simplified to a flat endpoint record since this
// emulator has no separate address-handle object.
func (d *Device) Connect(localQPNum uint32, addr *net.UDPAddr, destQPNum uint32, dlid uint16, qkey uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.qps[localQPNum]
	if !ok {
		return NewQPError("Connect", d.ID, localQPNum, ErrCodeQPNotFound, "no such queue pair")
	}
	d.endpoints[localQPNum] = endpoint{Addr: addr, DestQP: destQPNum, DLID: dlid, QKey: qkey}
	q.State = qp.StateRTR
	return nil
}

// ModifyQPToRTS transitions a connected QP to RTS, the state Dispatchable
// requires before it will send any posted work.
func (d *Device) ModifyQPToRTS(num uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.qps[num]
	if !ok {
		return NewQPError("ModifyQPToRTS", d.ID, num, ErrCodeQPNotFound, "no such queue pair")
	}
	q.State = qp.StateRTS
	return nil
}

// PostSend enqueues wr on qpNum's submitted list and wakes the worker so
// the scheduler pass considers it on the next iteration.
func (d *Device) PostSend(qpNum uint32, wr qp.WR) (*qp.SendWQE, error) {
	d.mu.Lock()
	q, ok := d.qps[qpNum]
	d.mu.Unlock()
	if !ok {
		return nil, NewQPError("PostSend", d.ID, qpNum, ErrCodeQPNotFound, "no such queue pair")
	}
	q.Mu.Lock()
	if q.State == qp.StateErr {
		q.Mu.Unlock()
		return nil, NewQPError("PostSend", d.ID, qpNum, ErrCodeQPInErrorState, "queue pair in error state")
	}
	wqe := q.PostSend(wr)
	wake, hasWork := qpWakeTime(q, time.Now().UnixNano())
	d.updateSchedule(qpNum, wake, hasWork)
	q.Mu.Unlock()

	d.worker.SignalQPSchedule()
	return wqe, nil
}

// PostRecv posts a receive buffer on qpNum.
func (d *Device) PostRecv(qpNum uint32, wr qp.RecvWQE) error {
	d.mu.Lock()
	q, ok := d.qps[qpNum]
	d.mu.Unlock()
	if !ok {
		return NewQPError("PostRecv", d.ID, qpNum, ErrCodeQPNotFound, "no such queue pair")
	}
	q.Mu.Lock()
	q.PostRecv(wr)
	q.Mu.Unlock()
	return nil
}

// PollCQ polls up to len(out) completions from the given CQ.
func (d *Device) PollCQ(cqNum uint32, out []cq.WC) (int, error) {
	d.mu.Lock()
	c, ok := d.cqs[cqNum]
	d.mu.Unlock()
	if !ok {
		return 0, NewError("PollCQ", ErrCodeInvalidParameters, "no such completion queue")
	}
	n, err := c.Poll(len(out), out)
	if err != nil {
		return n, WrapError("PollCQ", err)
	}
	return n, nil
}

// RegisterMR registers r for validated remote access by any QP on this
// device.
func (d *Device) RegisterMR(r *mr.Region) {
	d.Regions.Register(r)
}

// DeregisterMR removes a registered region by rkey.
func (d *Device) DeregisterMR(rkey uint32) {
	d.Regions.Deregister(rkey)
}

// Close stops the device's worker and closes every port socket.
func (d *Device) Close() error {
	if !d.started {
		return nil
	}
	d.cancel()
	d.worker.Stop()
	d.closePorts()
	d.wg.Wait()
	d.metrics.Stop()
	d.started = false
	d.logger.Info("device closed", "id", d.ID)
	return nil
}

