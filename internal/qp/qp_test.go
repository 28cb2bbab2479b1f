package qp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func isReadOrAtomic(opcode uint32) bool { return opcode == 2 || opcode == 3 }

func TestDispatchAssignsPSNsAndAdvancesExpected(t *testing.T) {
	q := New(1, TypeRC)
	q.State = StateRTS
	q.PostSend(WR{WRID: 1, Length: 1025, Opcode: 0})

	w := q.Dispatch(100, 1000, 256, isReadOrAtomic)
	require.NotNil(t, w)
	require.Equal(t, uint32(0), w.BasedPSN)
	require.Equal(t, uint32(5), w.AllPackets, "1025 bytes over MTU 256 needs 5 packets")
	require.Equal(t, uint32(5), q.ExpectedPSN)
	require.Equal(t, ListSending, w.ListType)
	require.Len(t, q.Sending, 1)
	require.Empty(t, q.Submitted)
}

func TestDispatchableRespectsFenceAndMaxRdAtomic(t *testing.T) {
	q := New(1, TypeRC)
	q.State = StateRTS
	q.MaxRdAtomic = 1
	q.PostSend(WR{WRID: 1, Opcode: 2, Fence: true}) // a read, fenced

	require.True(t, q.Dispatchable(isReadOrAtomic))
	q.NrRdAtomic = 1
	require.False(t, q.Dispatchable(isReadOrAtomic), "fence blocks dispatch while a read/atomic is in flight")
}

func TestCompleteWaitingThroughAckPSN(t *testing.T) {
	q := New(1, TypeRC)
	q.State = StateRTS
	q.PostSend(WR{WRID: 1, Length: 100})
	w := q.Dispatch(0, 1000, 256, isReadOrAtomic)
	q.MoveToWaiting(w.WR.WRID)
	require.Len(t, q.Waiting, 1)

	done := q.CompleteWaitingThrough(w.ExpectedPSN-1, isReadOrAtomic)
	require.Len(t, done, 1)
	require.Equal(t, ListFree, done[0].ListType)
	require.Empty(t, q.Waiting)
}

func TestRewindWaitingToSendingResetsSentPackets(t *testing.T) {
	q := New(1, TypeRC)
	q.State = StateRTS
	q.PostSend(WR{WRID: 1, Length: 1025})
	w := q.Dispatch(0, 1000, 256, isReadOrAtomic)
	w.SentPackets = 5
	w.AckPackets = 2
	q.MoveToWaiting(w.WR.WRID)

	q.RewindWaitingToSending()
	require.Empty(t, q.Waiting)
	require.Len(t, q.Sending, 1)
	require.Equal(t, uint32(2), q.Sending[0].SentPackets)
	require.Equal(t, ListSending, q.Sending[0].ListType)
}

func TestAtomicCacheDuplicateDetection(t *testing.T) {
	q := New(1, TypeRC)
	q.CacheAtomicResponse(42, 0xCAFE)

	entry, ok := q.LookupAtomicResponse(42)
	require.True(t, ok)
	require.Equal(t, uint64(0xCAFE), entry.OrigData)

	_, ok = q.LookupAtomicResponse(43)
	require.False(t, ok)
}

func TestAtomicCacheEvictsOldest(t *testing.T) {
	q := New(1, TypeRC)
	q.atomicCacheCap = 2
	q.CacheAtomicResponse(1, 1)
	q.CacheAtomicResponse(2, 2)
	q.CacheAtomicResponse(3, 3)

	_, ok := q.LookupAtomicResponse(1)
	require.False(t, ok, "oldest entry should have been evicted")
	_, ok = q.LookupAtomicResponse(3)
	require.True(t, ok)
}

func TestFlushToErrClearsAllListsAndSetsErrState(t *testing.T) {
	q := New(1, TypeRC)
	q.State = StateRTS
	q.PostSend(WR{WRID: 1})
	q.PostSend(WR{WRID: 2})

	flushed := q.FlushToErr(99)
	require.Len(t, flushed, 2)
	require.Equal(t, StateErr, q.State)
	require.Empty(t, q.Submitted)
	for _, w := range flushed {
		require.Equal(t, uint32(99), w.Status)
	}
}

func TestPSNWraparoundCompare(t *testing.T) {
	require.True(t, psnLTE(0xFFFFFE, 0x000001), "PSN comparison must handle 24-bit wraparound")
	require.False(t, psnLTE(0x000001, 0xFFFFFE))
}
