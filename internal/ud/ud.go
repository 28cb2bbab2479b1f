// Package ud implements the unreliable-datagram engine of spec §4.5: send
// with no retransmit, best-effort receive matching, and multicast fan-in
// through internal/mcast with loopback exclusion.
package ud

import (
	"github.com/ibemu/pib/internal/cq"
	"github.com/ibemu/pib/internal/mcast"
	"github.com/ibemu/pib/internal/qp"
)

// WCStatus mirrors the subset of ib_wc_status this engine produces.
const (
	WCStatusSuccess uint32 = 0
)

// Send emits exactly NumPackets datagrams (the caller's transport layer is
// responsible for actually writing them to the wire; this function only
// performs the WQE bookkeeping) and immediately completes the WQE on the
// send CQ if signaled, since UD has no acknowledgement to wait for.
func Send(q *qp.QP, sendCQ *cq.CQ, wqe *qp.SendWQE, pathMTU uint32) {
	numPackets := wqe.WR.Length / pathMTU
	if wqe.WR.Length%pathMTU != 0 || numPackets == 0 {
		numPackets++
	}
	wqe.AllPackets = numPackets
	wqe.ListType = qp.ListFree

	if wqe.WR.Signaled && sendCQ != nil {
		_ = sendCQ.InsertSuccess(cq.WC{
			WRID:    wqe.WR.WRID,
			QPNum:   q.Num,
			Status:  WCStatusSuccess,
			ByteLen: wqe.WR.Length,
		}, false)
	}
}

// Deliver matches the first available RWQE on recvQP's recv list and posts
// a recv CQE copying payload into it. If no RWQE is posted, UD drops the
// datagram silently (UD has no RNR). Returns true if delivered.
func Deliver(recvQP *qp.QP, recvCQ *cq.CQ, payload []byte, immData uint32, withImm bool, slid uint16) bool {
	rwqe := recvQP.PopRecv()
	if rwqe == nil {
		return false
	}
	n := copy(rwqe.Buf, payload)

	wc := cq.WC{
		WRID:    rwqe.WRID,
		QPNum:   recvQP.Num,
		Status:  WCStatusSuccess,
		ByteLen: uint32(n),
		SLID:    slid,
	}
	if withImm {
		wc.ImmData = immData
		wc.WCFlags = 1
	}
	_ = recvCQ.InsertSuccess(wc, false)
	return true
}

// QPResolver looks up a device-owned QP and its recv CQ by QP number, used
// by DeliverMulticast to turn mcast.Member handles into delivery targets.
type QPResolver func(qpNum uint32) (q *qp.QP, recvCQ *cq.CQ, ok bool)

// DeliverMulticast fans payload out to every QP attached to mlid on
// table, excluding sender, per spec §4.5's loopback-exclusion rule. Returns
// the number of QPs the datagram was actually delivered to (a recipient
// with no posted RWQE still counts as "attempted", not "delivered").
func DeliverMulticast(table *mcast.DeviceTable, mlid uint16, sender mcast.Member, resolve QPResolver, payload []byte, immData uint32, withImm bool, slid uint16) int {
	delivered := 0
	for _, m := range table.Recipients(mlid, sender) {
		q, recvCQ, ok := resolve(m.QPNum)
		if !ok {
			continue
		}
		if Deliver(q, recvCQ, payload, immData, withImm, slid) {
			delivered++
		}
	}
	return delivered
}
