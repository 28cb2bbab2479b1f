package rc

import (
	"github.com/ibemu/pib/internal/cq"
	"github.com/ibemu/pib/internal/qp"
)

// Packet describes one outbound packet produced by a packetisation pass;
// the device worker's send path turns this into a wire.Packet addressed at
// the QP's remote LID.
type Packet struct {
	PSN      uint32
	Opcode   uint32
	Payload  []byte
	AckReq   bool
	IsLast   bool
	Seq      PacketSeq
	Offset   uint32
}

// PacketizePass emits the sending-list head WQE's not-yet-sent packets,
// starting at SentPackets and at most quota of them per pass, and moves the
// WQE to the waiting list once all of its packets have been emitted. mtu
// bounds each packet's payload slice.
func PacketizePass(q *qp.QP, mtu uint32, quota int) []Packet {
	if len(q.Sending) == 0 {
		return nil
	}
	w := q.Sending[0]
	var out []Packet

	for len(out) < quota && w.SentPackets < w.AllPackets {
		idx := w.SentPackets
		start := idx * mtu
		end := start + mtu
		if end > w.WR.Length {
			end = w.WR.Length
		}
		var payload []byte
		if int(end) <= len(w.WR.SGL) {
			payload = w.WR.SGL[start:end]
		}

		isFirst := idx == 0
		isLast := idx == w.AllPackets-1
		seq := PacketMiddle
		switch {
		case isFirst && isLast:
			seq = PacketOnly
		case isFirst:
			seq = PacketFirst
		case isLast:
			seq = PacketLast
		}
		out = append(out, Packet{
			PSN:     w.BasedPSN + idx,
			Opcode:  w.WR.Opcode,
			Payload: payload,
			AckReq:  isLast,
			IsLast:  isLast,
			Seq:     seq,
			Offset:  start,
		})
		w.SentPackets++
	}

	if w.SentPackets == w.AllPackets {
		q.MoveToWaiting(w.WR.WRID)
	}
	return out
}

// HandleAck completes every waiting WQE whose last PSN (ExpectedPSN-1) is
// at or before ackPSN, posting a SUCCESS send-CQE for each signaled one.
func HandleAck(q *qp.QP, sendCQ *cq.CQ, ackPSN uint32) {
	done := q.CompleteWaitingThrough(ackPSN, IsReadOrAtomic)
	for _, w := range done {
		if !w.WR.Signaled || sendCQ == nil {
			continue
		}
		_ = sendCQ.InsertSuccess(cq.WC{
			WRID:    w.WR.WRID,
			QPNum:   q.Num,
			Status:  WCSuccess,
			ByteLen: w.WR.Length,
		}, false)
	}
}

// CheckRetransmit inspects the waiting-list head and, if its LocalAckTime
// has elapsed, either fails the WQE with a timeout completion (retry_cnt
// exhausted, QP moves to ERR and all remaining WQEs flush) or rewinds the
// waiting list back onto sending for retransmission, per spec §4.4.
// Returns true if a retransmit-relevant mutation occurred.
func CheckRetransmit(q *qp.QP, sendCQ *cq.CQ, now int64, schedTimeout int64) bool {
	if len(q.Waiting) == 0 {
		return false
	}
	head := q.Waiting[0]
	if head.LocalAckTime > now {
		return false
	}

	if head.RetryCnt == 0 {
		head.Status = WCRetryExcErr
		flushed := q.FlushToErr(WCFlushErr)
		if sendCQ != nil {
			for _, w := range flushed {
				status := WCFlushErr
				if w.WR.WRID == head.WR.WRID {
					status = WCRetryExcErr
				}
				if w.WR.Signaled {
					_ = sendCQ.InsertSuccess(cq.WC{WRID: w.WR.WRID, QPNum: q.Num, Status: status}, false)
				}
			}
		}
		return true
	}

	head.RetryCnt--
	head.LocalAckTime = now + schedTimeout
	q.RewindWaitingToSending()
	return true
}

// HandleRNRNak applies a received RNR NAK to the sending-list head per
// spec §4.4: delays schedule_time by nakTimer, decrements rnr_retry unless
// it is the "infinite" sentinel, and completes with RNR_RETRY_EXC once
// exhausted.
func HandleRNRNak(q *qp.QP, sendCQ *cq.CQ, nakTimer int64, now int64) {
	if len(q.Sending) == 0 {
		return
	}
	head := q.Sending[0]
	head.ScheduleTime = now + nakTimer

	if head.RNRRetry == RNRInfiniteRetry {
		return
	}
	if head.RNRRetry == 0 {
		head.Status = WCRNRRetryExcErr
		head.ListType = qp.ListFree
		q.Sending = q.Sending[1:]
		if head.WR.Signaled && sendCQ != nil {
			_ = sendCQ.InsertSuccess(cq.WC{WRID: head.WR.WRID, QPNum: q.Num, Status: WCRNRRetryExcErr}, false)
		}
		return
	}
	head.RNRRetry--
}
