package pib

import (
	"github.com/ibemu/pib/internal/rc"
	"github.com/ibemu/pib/internal/wire"
)

// Wire-level opcodes. Requests reuse internal/rc's WQE opcode numbering
// directly as the BTH opcode field, since spec §4.1's wire format ties one
// opcode space to both; responses (ACK/NAK, RDMA_READ response, atomic
// ack) get a disjoint range since they never originate from a posted WR.
const (
	wireOpAck              uint8 = 0x10
	wireOpRDMAReadResponse uint8 = 0x11
	wireOpAtomicAck        uint8 = 0x12
	wireOpUDSend           uint8 = 0x40
	wireOpUDSendWithImm    uint8 = 0x41
)

func isImmOpcode(opcode uint32) bool {
	return opcode == rc.OpSendWithImm || opcode == rc.OpRDMAWriteWithImm
}

// isSeqOpcode reports whether opcode is one of the packetizable opcodes
// that carries a SeqHdr FIRST/MIDDLE/LAST/ONLY marker; RDMA_READ and the
// atomics are always single-packet in this emulator and carry none.
func isSeqOpcode(opcode uint32) bool {
	switch opcode {
	case rc.OpSend, rc.OpSendWithImm, rc.OpRDMAWrite, rc.OpRDMAWriteWithImm:
		return true
	default:
		return false
	}
}

// buildRequestPacket renders one rc.Packet as a BTH-carrying UDP datagram
// addressed to destQP over the link identified by (dlid, slid). SeqHdr
// leads the payload on packetizable opcodes, followed by the RETH
// extension header on RDMA write/read opcodes, AtomicETH on atomic
// opcodes, and ImmDt when the opcode carries immediate data (only on the
// ONLY/LAST packet of a message), mirroring spec §4.1's "transport-specific
// extension" ordering.
func buildRequestPacket(pkt rc.Packet, destQP uint32, dlid, slid uint16, remoteAddr uint64, rkey uint32, swapOrAdd, compareData uint64, immData uint32) ([]byte, error) {
	var bth wire.BTH
	bth.OpCode = byte(pkt.Opcode)
	bth.SetDestQP(destQP)
	bth.SetPSN(pkt.AckReq, pkt.PSN)
	padCnt := (4 - len(pkt.Payload)%4) % 4
	bth.SetFlags(false, false, uint8(padCnt), 0)

	payload := make([]byte, 0, wire.SizeSeqHdr+wire.SizeRETH+wire.SizeAtomicETH+wire.SizeImmDt+len(pkt.Payload))

	if isSeqOpcode(pkt.Opcode) {
		seqHdr := wire.SeqHdr{Seq: uint8(pkt.Seq)}
		buf := make([]byte, wire.SizeSeqHdr)
		if err := wire.MarshalSeqHdr(&seqHdr, buf); err != nil {
			return nil, err
		}
		payload = append(payload, buf...)
	}

	switch pkt.Opcode {
	case rc.OpRDMAWrite, rc.OpRDMAWriteWithImm, rc.OpRDMARead:
		reth := wire.RETH{VA: remoteAddr, RKey: rkey, DMALen: uint32(len(pkt.Payload))}
		buf := make([]byte, wire.SizeRETH)
		if err := wire.MarshalRETH(&reth, buf); err != nil {
			return nil, err
		}
		payload = append(payload, buf...)
	case rc.OpAtomicCmpSwap, rc.OpAtomicFetchAdd:
		ae := wire.AtomicETH{VA: remoteAddr, RKey: rkey, SwapOrAdd: swapOrAdd, CompareData: compareData}
		buf := make([]byte, wire.SizeAtomicETH)
		if err := wire.MarshalAtomicETH(&ae, buf); err != nil {
			return nil, err
		}
		payload = append(payload, buf...)
	}

	if isImmOpcode(pkt.Opcode) && (pkt.Seq == rc.PacketOnly || pkt.Seq == rc.PacketLast) {
		imm := wire.ImmDt{Data: immData}
		buf := make([]byte, wire.SizeImmDt)
		if err := wire.MarshalImmDt(&imm, buf); err != nil {
			return nil, err
		}
		payload = append(payload, buf...)
	}

	payload = append(payload, pkt.Payload...)

	p := &wire.Packet{
		LRH:     wire.LRH{DLID: dlid, SLID: slid},
		BTH:     bth,
		Payload: payload,
	}
	return wire.Emit(p)
}

// parsedRequest is the result of stripping a request packet's
// transport-specific extension header from its payload.
type parsedRequest struct {
	remoteAddr  uint64
	rkey        uint32
	swapOrAdd   uint64
	compareData uint64
	immData     uint32
	withImm     bool
	seq         rc.PacketSeq
	data        []byte
}

func parseRequestPayload(opcode uint32, payload []byte) parsedRequest {
	var pr parsedRequest
	off := 0

	if isSeqOpcode(opcode) && len(payload) >= off+wire.SizeSeqHdr {
		var seqHdr wire.SeqHdr
		_ = wire.UnmarshalSeqHdr(payload[off:], &seqHdr)
		pr.seq = rc.PacketSeq(seqHdr.Seq)
		off += wire.SizeSeqHdr
	}

	switch opcode {
	case rc.OpRDMAWrite, rc.OpRDMAWriteWithImm, rc.OpRDMARead:
		if len(payload) >= off+wire.SizeRETH {
			var reth wire.RETH
			_ = wire.UnmarshalRETH(payload[off:], &reth)
			pr.remoteAddr = reth.VA
			pr.rkey = reth.RKey
			off += wire.SizeRETH
		}
	case rc.OpAtomicCmpSwap, rc.OpAtomicFetchAdd:
		if len(payload) >= off+wire.SizeAtomicETH {
			var ae wire.AtomicETH
			_ = wire.UnmarshalAtomicETH(payload[off:], &ae)
			pr.remoteAddr = ae.VA
			pr.rkey = ae.RKey
			pr.swapOrAdd = ae.SwapOrAdd
			pr.compareData = ae.CompareData
			off += wire.SizeAtomicETH
		}
	}

	if isImmOpcode(opcode) && len(payload) >= off+wire.SizeImmDt && (pr.seq == rc.PacketOnly || pr.seq == rc.PacketLast) {
		var imm wire.ImmDt
		_ = wire.UnmarshalImmDt(payload[off:], &imm)
		pr.immData = imm.Data
		pr.withImm = true
		off += wire.SizeImmDt
	}

	pr.data = payload[off:]
	return pr
}

// buildResponsePacket renders an rc.Response as an ACK/NAK or atomic-ack
// packet, carrying RDETH+AETH (+ AtomicAckETH on an atomic ack) per spec
// §4.1. RDMA_READ responses are built by buildReadResponsePacket.
func buildResponsePacket(resp rc.Response, destQP uint32, dlid, slid uint16, msn uint32) ([]byte, error) {
	var bth wire.BTH
	bth.SetDestQP(destQP)
	bth.SetPSN(false, resp.PSN)

	var aeth wire.AETH
	aeth.SetMSN(msn)
	if resp.IsNAK {
		aeth.Syndrome = wire.AETHTypeNAK | (uint8(resp.NAKCode) & 0x1f)
	} else {
		aeth.Syndrome = wire.AETHTypeACK
	}

	rdethBuf := make([]byte, wire.SizeRDETH)
	aethBuf := make([]byte, wire.SizeAETH)
	if err := wire.MarshalAETH(&aeth, aethBuf); err != nil {
		return nil, err
	}

	payload := append([]byte{}, rdethBuf...)
	payload = append(payload, aethBuf...)

	switch {
	case resp.IsAtomic && !resp.IsNAK:
		bth.OpCode = wireOpAtomicAck
		ackEth := wire.AtomicAckETH{OrigRemoteData: resp.AtomicResult}
		buf := make([]byte, wire.SizeAtomicAckETH)
		if err := wire.MarshalAtomicAckETH(&ackEth, buf); err != nil {
			return nil, err
		}
		payload = append(payload, buf...)
	default:
		bth.OpCode = wireOpAck
	}

	padCnt := (4 - len(payload)%4) % 4
	bth.SetFlags(false, false, uint8(padCnt), 0)

	p := &wire.Packet{
		LRH:     wire.LRH{DLID: dlid, SLID: slid},
		BTH:     bth,
		Payload: payload,
	}
	return wire.Emit(p)
}

// buildReadResponsePacket renders a staged RDMA_READ response WQE
// (qp.AckList entry) as a single response packet carrying the requested
// data, per spec §4.4's "caller drains AckList" note.
func buildReadResponsePacket(psn uint32, data []byte, destQP uint32, dlid, slid uint16, msn uint32) ([]byte, error) {
	var bth wire.BTH
	bth.OpCode = wireOpRDMAReadResponse
	bth.SetDestQP(destQP)
	bth.SetPSN(false, psn)

	var aeth wire.AETH
	aeth.SetMSN(msn)
	aeth.Syndrome = wire.AETHTypeACK

	rdethBuf := make([]byte, wire.SizeRDETH)
	aethBuf := make([]byte, wire.SizeAETH)
	if err := wire.MarshalAETH(&aeth, aethBuf); err != nil {
		return nil, err
	}

	payload := append([]byte{}, rdethBuf...)
	payload = append(payload, aethBuf...)
	payload = append(payload, data...)

	padCnt := (4 - len(payload)%4) % 4
	bth.SetFlags(false, false, uint8(padCnt), 0)

	p := &wire.Packet{
		LRH:     wire.LRH{DLID: dlid, SLID: slid},
		BTH:     bth,
		Payload: payload,
	}
	return wire.Emit(p)
}

// buildUDPacket renders a UD send WQE's packetization as a datagram
// carrying DETH, per spec §4.5.
func buildUDPacket(pkt rc.Packet, destQP, srcQP uint32, qkey uint32, dlid, slid uint16, immData uint32) ([]byte, error) {
	var bth wire.BTH
	if isImmOpcode(pkt.Opcode) {
		bth.OpCode = wireOpUDSendWithImm
	} else {
		bth.OpCode = wireOpUDSend
	}
	bth.SetDestQP(destQP)
	bth.SetPSN(false, pkt.PSN)

	deth := wire.DETH{QKey: qkey}
	deth.SetSrcQP(srcQP)
	dethBuf := make([]byte, wire.SizeDETH)
	if err := wire.MarshalDETH(&deth, dethBuf); err != nil {
		return nil, err
	}

	payload := append([]byte{}, dethBuf...)
	if isImmOpcode(pkt.Opcode) {
		imm := wire.ImmDt{Data: immData}
		buf := make([]byte, wire.SizeImmDt)
		if err := wire.MarshalImmDt(&imm, buf); err != nil {
			return nil, err
		}
		payload = append(payload, buf...)
	}
	payload = append(payload, pkt.Payload...)

	padCnt := (4 - len(payload)%4) % 4
	bth.SetFlags(false, false, uint8(padCnt), 0)

	p := &wire.Packet{
		LRH:     wire.LRH{DLID: dlid, SLID: slid},
		BTH:     bth,
		Payload: payload,
	}
	return wire.Emit(p)
}

// parseUDPayload splits a UD packet's payload into its DETH and data.
func parseUDPayload(opcode uint8, payload []byte) (srcQP uint32, immData uint32, withImm bool, data []byte) {
	if len(payload) < wire.SizeDETH {
		return 0, 0, false, nil
	}
	var deth wire.DETH
	_ = wire.UnmarshalDETH(payload, &deth)
	off := wire.SizeDETH

	withImm = opcode == wireOpUDSendWithImm
	if withImm && len(payload) >= off+wire.SizeImmDt {
		var imm wire.ImmDt
		_ = wire.UnmarshalImmDt(payload[off:], &imm)
		immData = imm.Data
		off += wire.SizeImmDt
	}
	return deth.SrcQP(), immData, withImm, payload[off:]
}
