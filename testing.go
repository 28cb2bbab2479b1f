package pib

import (
	"sync"

	"github.com/ibemu/pib/internal/cq"
	"github.com/ibemu/pib/internal/mr"
	"github.com/ibemu/pib/internal/qp"
)

// LoopbackFabric wires a pair of QPs directly together in-process, with no
// socket or wire-codec involvement, so callers can exercise verbs-level
// behavior (PostSend/PostRecv, completion delivery, rkey validation) in a
// unit test without standing up a real Device: a deterministic double for
// tests that only need to drive the surface, not the transport.
type LoopbackFabric struct {
	mu sync.Mutex

	Local  *qp.QP
	Remote *qp.QP

	LocalCQ  *cq.CQ
	RemoteCQ *cq.CQ

	Regions *mr.Registry

	Metrics  *Metrics
	Observer Observer
}

// NewLoopbackFabric creates a local/remote QP pair of the given type, each
// backed by its own CQ, sharing one memory-region registry so RDMA_WRITE/
// RDMA_READ targets posted by one side resolve against regions the other
// side registered.
func NewLoopbackFabric(qpType qp.Type, cqDepth int) *LoopbackFabric {
	m := NewMetrics()
	f := &LoopbackFabric{
		Local:    qp.New(1, qpType),
		Remote:   qp.New(2, qpType),
		Regions:  mr.NewRegistry(),
		Metrics:  m,
		Observer: NewMetricsObserver(m),
	}
	f.LocalCQ = cq.New(cqDepth, nil, nil)
	f.RemoteCQ = cq.New(cqDepth, nil, nil)
	return f
}

// RegisterRegion adds a memory region visible to both sides of the loopback
// pair, keyed by rkey.
func (f *LoopbackFabric) RegisterRegion(r *mr.Region) {
	f.Regions.Register(r)
}

// DeliverSend moves one send WQE's payload directly into the matching
// posted receive buffer on the remote side (as if the packet it would
// otherwise generate had been relayed and acked instantly), then inserts
// completions on both CQs. It is a simplification of the full RC/UD
// engines' PSN/ACK machinery intended only for exercising the verbs layer
// and the Metrics/Observer wiring above it.
func (f *LoopbackFabric) DeliverSend(wqe *qp.SendWQE) (sendWC, recvWC cq.WC, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	recv := f.Remote.PopRecv()
	if recv == nil {
		err = NewQPError("DeliverSend", 0, f.Remote.Num, ErrCodeRNRExceeded, "no posted receive buffer")
		f.Observer.ObserveRNRNak()
		return cq.WC{}, cq.WC{}, err
	}

	n := copy(recv.Buf, wqe.WR.SGL)

	sendWC = cq.WC{WRID: wqe.WR.WRID, QPNum: f.Local.Num, Opcode: wqe.WR.Opcode, ByteLen: uint32(n)}
	recvWC = cq.WC{WRID: recv.WRID, QPNum: f.Remote.Num, Opcode: wqe.WR.Opcode, ByteLen: uint32(n), ImmData: wqe.WR.ImmData}

	if insertErr := f.LocalCQ.InsertSuccess(sendWC, wqe.WR.Solicited); insertErr != nil {
		f.Observer.ObserveCQOverflow()
		return sendWC, recvWC, WrapError("DeliverSend", insertErr)
	}
	if insertErr := f.RemoteCQ.InsertSuccess(recvWC, wqe.WR.Solicited); insertErr != nil {
		f.Observer.ObserveCQOverflow()
		return sendWC, recvWC, WrapError("DeliverSend", insertErr)
	}

	f.Observer.ObserveRelay(false)
	f.Observer.ObserveCompletion(0, true)
	return sendWC, recvWC, nil
}

// DeliverRDMAWrite validates (addr, rkey, length) against the shared
// registry and, on success, copies payload directly into the target
// region's backing buffer, bypassing the wire entirely.
func (f *LoopbackFabric) DeliverRDMAWrite(wqe *qp.SendWQE) (cq.WC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dst, ok := f.Regions.Validate(wqe.WR.RemoteAddr, wqe.WR.RKey, wqe.WR.Length)
	if !ok {
		f.Observer.ObserveRelay(true)
		err := NewQPError("DeliverRDMAWrite", 0, f.Local.Num, ErrCodeRemoteAccess, "rkey/bounds validation failed")
		return cq.WC{Status: uint32(WCStatusRemAccessErr)}, err
	}
	copy(dst, wqe.WR.SGL)

	wc := cq.WC{WRID: wqe.WR.WRID, QPNum: f.Local.Num, Opcode: wqe.WR.Opcode, ByteLen: wqe.WR.Length, ImmData: wqe.WR.ImmData}
	if err := f.LocalCQ.InsertSuccess(wc, wqe.WR.Solicited); err != nil {
		f.Observer.ObserveCQOverflow()
		return wc, WrapError("DeliverRDMAWrite", err)
	}
	f.Observer.ObserveRelay(false)
	f.Observer.ObserveCompletion(0, true)
	return wc, nil
}
