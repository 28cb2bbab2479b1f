package rc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ibemu/pib/internal/cq"
	"github.com/ibemu/pib/internal/qp"
)

// Scenario 1: RC send-only, 256 B, MTU 256.
func TestScenarioSingleMTUSend(t *testing.T) {
	q := qp.New(1, qp.TypeRC)
	q.State = qp.StateRTS
	sendCQ := cq.New(4, nil, nil)
	payload := make([]byte, 256)
	wqe := q.PostSend(qp.WR{WRID: 1, Length: 256, Opcode: OpSend, Signaled: true, SGL: payload})

	w := q.Dispatch(0, DefaultSchedTimeout, 256, IsReadOrAtomic)
	require.Same(t, wqe, w)
	require.Equal(t, uint32(1), w.AllPackets)

	packets := PacketizePass(q, 256, 10)
	require.Len(t, packets, 1)
	require.True(t, packets[0].IsLast)
	require.Len(t, q.Waiting, 1)
	require.Empty(t, q.Sending)

	HandleAck(q, sendCQ, w.ExpectedPSN-1)
	require.Empty(t, q.Waiting)

	out := make([]cq.WC, 1)
	n, _ := sendCQ.Poll(1, out)
	require.Equal(t, 1, n)
	require.Equal(t, WCSuccess, out[0].Status)
	require.Equal(t, uint32(256), out[0].ByteLen)
}

// Scenario 2: RC send, 1025 B, MTU 256 -> five packets, expected_psn advances by 5.
func TestScenarioFivePacketSend(t *testing.T) {
	q := qp.New(1, qp.TypeRC)
	q.State = qp.StateRTS
	payload := make([]byte, 1025)
	q.PostSend(qp.WR{WRID: 1, Length: 1025, Opcode: OpSend, Signaled: true, SGL: payload})

	w := q.Dispatch(0, DefaultSchedTimeout, 256, IsReadOrAtomic)
	require.Equal(t, uint32(5), w.AllPackets)
	require.Equal(t, uint32(5), q.ExpectedPSN)

	packets := PacketizePass(q, 256, 10)
	require.Len(t, packets, 5)
	for i, p := range packets {
		require.Equal(t, uint32(i), p.PSN)
	}
	require.True(t, packets[4].IsLast)
	for i := 0; i < 4; i++ {
		require.False(t, packets[i].IsLast)
	}
	require.Len(t, q.Waiting, 1, "all 5 packets emitted moves the WQE to WAITING")
}

// Scenario 3: RC retry — drop the first ACK, retransmit all 5 after timeout.
func TestScenarioRetryRewindsAndDecrementsRetryCnt(t *testing.T) {
	q := qp.New(1, qp.TypeRC)
	q.State = qp.StateRTS
	q.RetryCnt = 3
	sendCQ := cq.New(4, nil, nil)
	payload := make([]byte, 1025)
	q.PostSend(qp.WR{WRID: 1, Length: 1025, Opcode: OpSend, Signaled: true, SGL: payload})

	w := q.Dispatch(0, DefaultSchedTimeout, 256, IsReadOrAtomic)
	PacketizePass(q, 256, 10)
	require.Len(t, q.Waiting, 1)
	require.Equal(t, uint8(3), w.RetryCnt)

	mutated := CheckRetransmit(q, sendCQ, w.LocalAckTime+1, DefaultSchedTimeout)
	require.True(t, mutated)
	require.Empty(t, q.Waiting)
	require.Len(t, q.Sending, 1)
	require.Equal(t, uint32(0), q.Sending[0].SentPackets, "rewind resets sent_packets to ack_packets (0, nothing acked yet)")
	require.Equal(t, uint8(2), q.Sending[0].RetryCnt)

	// Retransmit all 5, then ack.
	packets := PacketizePass(q, 256, 10)
	require.Len(t, packets, 5)
	HandleAck(q, sendCQ, w.ExpectedPSN-1)

	out := make([]cq.WC, 1)
	n, _ := sendCQ.Poll(1, out)
	require.Equal(t, 1, n)
	require.Equal(t, WCSuccess, out[0].Status)
}

func TestRetryExhaustionFlushesQPToErr(t *testing.T) {
	q := qp.New(1, qp.TypeRC)
	q.State = qp.StateRTS
	q.RetryCnt = 0
	sendCQ := cq.New(4, nil, nil)
	q.PostSend(qp.WR{WRID: 1, Length: 100, Opcode: OpSend, Signaled: true, SGL: make([]byte, 100)})
	w := q.Dispatch(0, DefaultSchedTimeout, 256, IsReadOrAtomic)
	PacketizePass(q, 256, 10)

	CheckRetransmit(q, sendCQ, w.LocalAckTime+1, DefaultSchedTimeout)
	require.Equal(t, qp.StateErr, q.State)

	out := make([]cq.WC, 1)
	n, _ := sendCQ.Poll(1, out)
	require.Equal(t, 1, n)
	require.Equal(t, WCRetryExcErr, out[0].Status)
}

func TestRNRNakDecrementsThenExhausts(t *testing.T) {
	q := qp.New(1, qp.TypeRC)
	q.State = qp.StateRTS
	sendCQ := cq.New(4, nil, nil)
	q.PostSend(qp.WR{WRID: 1, Length: 10, Opcode: OpSend, Signaled: true, SGL: make([]byte, 10)})
	q.Dispatch(0, DefaultSchedTimeout, 256, IsReadOrAtomic)
	q.Sending[0].RNRRetry = 1

	HandleRNRNak(q, sendCQ, 1000, 0)
	require.Len(t, q.Sending, 1, "first RNR decrements, does not complete")
	require.Equal(t, uint8(0), q.Sending[0].RNRRetry)

	HandleRNRNak(q, sendCQ, 1000, 0)
	require.Empty(t, q.Sending, "exhausted rnr_retry completes the WQE")

	out := make([]cq.WC, 1)
	n, _ := sendCQ.Poll(1, out)
	require.Equal(t, 1, n)
	require.Equal(t, WCRNRRetryExcErr, out[0].Status)
}

func alwaysValid(buf []byte) RKeyValidator {
	return func(addr uint64, rkey uint32, length uint32) ([]byte, bool) {
		if addr+uint64(length) > uint64(len(buf)) {
			return nil, false
		}
		return buf[addr : addr+uint64(length)], true
	}
}

func TestResponderRDMAWrite(t *testing.T) {
	q := qp.New(2, qp.TypeRC)
	mem := make([]byte, 64)
	recvCQ := cq.New(4, nil, nil)

	resp := HandleRequest(q, recvCQ, 0, OpRDMAWrite, []byte("hello"), 0, false, 0, 1, 0, 0, alwaysValid(mem), 0, PacketOnly)
	require.False(t, resp.IsNAK)
	require.Equal(t, "hello", string(mem[:5]))
	require.Equal(t, uint32(1), q.RespPSN)
}

func TestResponderAtomicCompareSwapAndDuplicateReplay(t *testing.T) {
	q := qp.New(2, qp.TypeRC)
	mem := make([]byte, 8)
	putBeUint64(mem, 42)
	recvCQ := cq.New(4, nil, nil)

	resp := HandleRequest(q, recvCQ, 0, OpAtomicCmpSwap, nil, 0, false, 0, 1, 100, 42, alwaysValid(mem), 0, PacketOnly)
	require.True(t, resp.IsAtomic)
	require.Equal(t, uint64(42), resp.AtomicResult)
	require.Equal(t, uint64(100), beUint64(mem))

	// Duplicate of PSN 0 must replay the original response without re-executing.
	replay, ok := Replay(q, 0)
	require.True(t, ok)
	require.Equal(t, uint64(42), replay.AtomicResult)
	require.Equal(t, uint64(100), beUint64(mem), "replay must not mutate memory twice")
}

func TestResponderRejectsBadRKey(t *testing.T) {
	q := qp.New(2, qp.TypeRC)
	recvCQ := cq.New(4, nil, nil)
	alwaysInvalid := func(uint64, uint32, uint32) ([]byte, bool) { return nil, false }

	resp := HandleRequest(q, recvCQ, 0, OpRDMAWrite, []byte("x"), 0, false, 0, 1, 0, 0, alwaysInvalid, 0, PacketOnly)
	require.True(t, resp.IsNAK)
	require.Equal(t, NAKRemoteAccessErr, resp.NAKCode)
}

// Scenario: a SEND spanning FIRST+LAST packets reassembles into one
// receive completion with the combined byte length, per spec §4.4.
func TestResponderSendReassemblesMultiPacketMessage(t *testing.T) {
	q := qp.New(2, qp.TypeRC)
	q.PostRecv(qp.RecvWQE{WRID: 9, Capacity: 10, Buf: make([]byte, 10)})
	recvCQ := cq.New(4, nil, nil)

	resp := HandleRequest(q, recvCQ, 0, OpSend, []byte("abcde"), 0, false, 0, 0, 0, 0, nil, 0, PacketFirst)
	require.False(t, resp.IsNAK)
	require.Zero(t, recvCQ.Len(), "no completion until the LAST packet arrives")
	require.Equal(t, uint32(1), q.RespPSN)

	resp = HandleRequest(q, recvCQ, 1, OpSend, []byte("fghij"), 0, false, 0, 0, 0, 0, nil, 0, PacketLast)
	require.False(t, resp.IsNAK)
	require.Equal(t, uint32(2), q.RespPSN)

	out := make([]cq.WC, 1)
	n, _ := recvCQ.Poll(1, out)
	require.Equal(t, 1, n)
	require.Equal(t, WCSuccess, out[0].Status)
	require.Equal(t, uint32(10), out[0].ByteLen)
	require.Equal(t, uint64(9), out[0].WRID)
}

// Scenario: a MIDDLE packet arriving without an open FIRST is rejected
// rather than silently popping a fresh receive buffer out of sequence.
func TestResponderSendRejectsMiddleWithoutFirst(t *testing.T) {
	q := qp.New(2, qp.TypeRC)
	q.PostRecv(qp.RecvWQE{WRID: 9, Capacity: 10, Buf: make([]byte, 10)})
	recvCQ := cq.New(4, nil, nil)

	resp := HandleRequest(q, recvCQ, 0, OpSend, []byte("abcde"), 0, false, 0, 0, 0, 0, nil, 0, PacketMiddle)
	require.True(t, resp.IsNAK)
	require.Equal(t, NAKInvalidRequest, resp.NAKCode)
}

// Scenario: RDMA_WRITE_WITH_IMMEDIATE spanning three packets copies every
// chunk into the region and completes exactly once, on the LAST packet.
func TestResponderRDMAWriteWithImmMultiPacket(t *testing.T) {
	q := qp.New(2, qp.TypeRC)
	q.PostRecv(qp.RecvWQE{WRID: 5, Capacity: 4})
	mem := make([]byte, 12)
	recvCQ := cq.New(4, nil, nil)
	valid := alwaysValid(mem)

	resp := HandleRequest(q, recvCQ, 0, OpRDMAWriteWithImm, []byte("AAAA"), 0, false, 0, 1, 0, 0, valid, 0, PacketFirst)
	require.False(t, resp.IsNAK)
	require.Zero(t, recvCQ.Len())

	resp = HandleRequest(q, recvCQ, 1, OpRDMAWriteWithImm, []byte("BBBB"), 0, false, 4, 1, 0, 0, valid, 0, PacketMiddle)
	require.False(t, resp.IsNAK)
	require.Zero(t, recvCQ.Len())

	resp = HandleRequest(q, recvCQ, 2, OpRDMAWriteWithImm, []byte("CCCC"), 77, true, 8, 1, 0, 0, valid, 0, PacketLast)
	require.False(t, resp.IsNAK)
	require.Equal(t, "AAAABBBBCCCC", string(mem))

	out := make([]cq.WC, 1)
	n, _ := recvCQ.Poll(1, out)
	require.Equal(t, 1, n)
	require.Equal(t, uint32(12), out[0].ByteLen)
	require.Equal(t, uint32(77), out[0].ImmData)
}

func TestClassifyPSN(t *testing.T) {
	q := qp.New(1, qp.TypeRC)
	q.RespPSN = 10
	require.Equal(t, PSNExpected, ClassifyPSN(q, 10))
	require.Equal(t, PSNDuplicate, ClassifyPSN(q, 5))
	require.Equal(t, PSNSequenceError, ClassifyPSN(q, 20))
}
