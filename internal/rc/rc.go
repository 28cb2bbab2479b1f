// Package rc implements the reliable-connected engine of spec §4.4: the
// requester's packetisation/retransmit/RNR handling and the responder's
// ack/nak generation, PSN duplicate handling, and RDMA/atomic execution.
package rc

// Opcode values for the subset of RC operations this emulator executes.
const (
	OpSend             uint32 = 0x00
	OpSendWithImm      uint32 = 0x01
	OpRDMAWrite        uint32 = 0x02
	OpRDMAWriteWithImm uint32 = 0x03
	OpRDMARead         uint32 = 0x04
	OpAtomicCmpSwap    uint32 = 0x05
	OpAtomicFetchAdd   uint32 = 0x06
)

// IsReadOrAtomic reports whether opcode consumes a read-atomic-depth slot,
// the predicate spec §4.4's dispatch and completion logic both need.
func IsReadOrAtomic(opcode uint32) bool {
	switch opcode {
	case OpRDMARead, OpAtomicCmpSwap, OpAtomicFetchAdd:
		return true
	default:
		return false
	}
}

// PacketSeq marks a packet's position within a multi-packet message, per
// spec §4.4's FIRST/MIDDLE/LAST/ONLY framing: SEND/RDMA_WRITE WQEs that
// span more than one MTU-sized packet emit FIRST, zero or more MIDDLE, then
// LAST; a WQE that fits in one packet emits ONLY. The responder gates its
// receive-buffer accumulation on this marker rather than any wire-carried
// byte offset, since ClassifyPSN only ever routes in-order packets here.
type PacketSeq uint8

const (
	PacketOnly PacketSeq = iota
	PacketFirst
	PacketMiddle
	PacketLast
)

// WC status codes, the subset of ib_wc_status this engine produces.
const (
	WCSuccess uint32 = iota
	WCRetryExcErr
	WCRNRRetryExcErr
	WCRemAccessErr
	WCRemOpErr
	WCRemInvReqErr
	WCFlushErr
)

// NAK codes per AETH, spec §4.4.
const (
	NAKSeqErr uint32 = iota
	NAKInvalidRequest
	NAKRemoteAccessErr
	NAKRemoteOpErr
	NAKRNR
)

// RNRInfiniteRetry is the sentinel rnr_retry value meaning "retry forever".
const RNRInfiniteRetry uint8 = 7

// DefaultSchedTimeout is a default local-ack timeout before a retransmit
// fires; callers pass the timeout to Dispatch/CheckRetransmit explicitly,
// and the device worker passes its own configured value rather than this.
const DefaultSchedTimeout int64 = 1_000_000_000 // 1s, nanoseconds
