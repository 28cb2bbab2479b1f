package rc

import (
	"github.com/ibemu/pib/internal/cq"
	"github.com/ibemu/pib/internal/qp"
)

// RKeyValidator resolves a remote_addr/rkey/length triple to the backing
// byte slice for an RDMA_WRITE/RDMA_READ/atomic operation, or reports it
// invalid. Memory registration itself is an external collaborator per
// spec §1/§6; the RC engine only consumes this validation hook.
type RKeyValidator func(addr uint64, rkey uint32, length uint32) ([]byte, bool)

// Response describes the outcome of handling one inbound request packet:
// whether to emit an ACK or a NAK (and which code), plus any response
// payload for RDMA_READ/atomic operations.
type Response struct {
	PSN          uint32
	IsNAK        bool
	NAKCode      uint32
	AtomicResult uint64
	IsAtomic     bool
}

// PSNOutcome classifies an inbound request packet's PSN against the
// responder's current expected PSN.
type PSNOutcome int

const (
	PSNExpected PSNOutcome = iota
	PSNDuplicate
	PSNSequenceError
)

// ClassifyPSN compares psn to q.RespPSN with 24-bit wraparound.
func ClassifyPSN(q *qp.QP, psn uint32) PSNOutcome {
	if psn == q.RespPSN {
		return PSNExpected
	}
	if psnLess(psn, q.RespPSN) {
		return PSNDuplicate
	}
	return PSNSequenceError
}

func psnLess(a, b uint32) bool {
	const mask = 0x00FFFFFF
	diff := (b - a) & mask
	return diff != 0 && diff < (mask/2)
}

// HandleRequest processes one inbound RC request packet already
// demultiplexed to q and already PSN-classified as PSNExpected by the
// caller via ClassifyPSN. It executes the operation, advances RespPSN, and
// returns the Response to ack. Duplicate requests (PSNDuplicate) should
// instead call Replay, not HandleRequest.
//
// seq marks the packet's position in a possibly multi-packet SEND/
// RDMA_WRITE message (spec §4.4); only the ONLY/LAST packet of a message
// produces a receive completion, with q.Recv accumulating the bytes of any
// preceding FIRST/MIDDLE packets.
func HandleRequest(q *qp.QP, recvCQ *cq.CQ, psn, opcode uint32, payload []byte, immData uint32, withImm bool, remoteAddr uint64, rkey uint32, swapOrAdd, compareData uint64, validate RKeyValidator, slid uint16, seq PacketSeq) Response {
	resp := Response{PSN: psn}

	switch opcode {
	case OpSend, OpSendWithImm:
		if seq == PacketOnly || seq == PacketFirst {
			rwqe := q.PopRecv()
			if rwqe == nil {
				resp.IsNAK = true
				resp.NAKCode = NAKRNR
				return resp
			}
			q.Recv = qp.RecvAssembly{Active: true, RWQE: rwqe}
		}
		if !q.Recv.Active || q.Recv.RWQE == nil {
			resp.IsNAK = true
			resp.NAKCode = NAKInvalidRequest
			return resp
		}
		q.Recv.Bytes += copyInto(q.Recv.RWQE.Buf, q.Recv.Bytes, payload)

		if seq == PacketOnly || seq == PacketLast {
			wc := cq.WC{WRID: q.Recv.RWQE.WRID, QPNum: q.Num, Status: WCSuccess, ByteLen: q.Recv.Bytes, SLID: slid}
			if withImm {
				wc.ImmData = immData
				wc.WCFlags = 1
			}
			_ = recvCQ.InsertSuccess(wc, false)
			q.Recv = qp.RecvAssembly{}
		}

	case OpRDMAWrite, OpRDMAWriteWithImm:
		dst, ok := validate(remoteAddr, rkey, uint32(len(payload)))
		if !ok {
			resp.IsNAK = true
			resp.NAKCode = NAKRemoteAccessErr
			return resp
		}
		copy(dst, payload)
		if seq == PacketOnly || seq == PacketFirst {
			q.Recv = qp.RecvAssembly{Active: true}
		}
		q.Recv.Bytes += uint32(len(payload))

		if withImm && (seq == PacketOnly || seq == PacketLast) {
			rwqe := q.PopRecv()
			if rwqe == nil {
				resp.IsNAK = true
				resp.NAKCode = NAKRNR
				return resp
			}
			_ = recvCQ.InsertSuccess(cq.WC{
				WRID: rwqe.WRID, QPNum: q.Num, Status: WCSuccess,
				ByteLen: q.Recv.Bytes, ImmData: immData, WCFlags: 1, SLID: slid,
			}, false)
		}
		if seq == PacketOnly || seq == PacketLast {
			q.Recv = qp.RecvAssembly{}
		}

	case OpRDMARead:
		src, ok := validate(remoteAddr, rkey, uint32(len(payload)))
		if !ok {
			resp.IsNAK = true
			resp.NAKCode = NAKRemoteAccessErr
			return resp
		}
		// Stage a read-response WQE on the ack list; the caller (device
		// worker) drains AckList to emit the response packets carrying src.
		q.AckList = append(q.AckList, &qp.SendWQE{
			WR: qp.WR{Opcode: OpRDMARead, SGL: src, Length: uint32(len(src))},
		})

	case OpAtomicCmpSwap, OpAtomicFetchAdd:
		dst, ok := validate(remoteAddr, rkey, 8)
		if !ok || len(dst) < 8 {
			resp.IsNAK = true
			resp.NAKCode = NAKRemoteAccessErr
			return resp
		}
		orig := beUint64(dst)
		var newVal uint64
		if opcode == OpAtomicCmpSwap {
			if orig == compareData {
				newVal = swapOrAdd
			} else {
				newVal = orig
			}
		} else {
			newVal = orig + swapOrAdd
		}
		putBeUint64(dst, newVal)
		q.CacheAtomicResponse(psn, orig)
		resp.IsAtomic = true
		resp.AtomicResult = orig

	default:
		resp.IsNAK = true
		resp.NAKCode = NAKInvalidRequest
		return resp
	}

	q.RespPSN = psn + 1
	return resp
}

// Replay returns the cached response for a duplicate atomic request, or
// reports no cached entry (in which case spec §4.4 says to silently drop
// and re-ACK the current responder PSN).
func Replay(q *qp.QP, psn uint32) (Response, bool) {
	entry, ok := q.LookupAtomicResponse(psn)
	if !ok {
		return Response{}, false
	}
	return Response{PSN: psn, IsAtomic: true, AtomicResult: entry.OrigData}, true
}

// copyInto writes src into dst starting at off, returning the number of
// bytes written; out-of-range offsets (a malformed or truncated buffer)
// write nothing rather than panicking.
func copyInto(dst []byte, off uint32, src []byte) uint32 {
	if uint64(off) >= uint64(len(dst)) {
		return 0
	}
	return uint32(copy(dst[off:], src))
}

func beUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putBeUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
