package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyIndexWakeupIsHorizon(t *testing.T) {
	idx := NewIndex()
	require.Equal(t, int64(1100), idx.WakeupTime(100, 1000))
	_, ok := idx.First()
	require.False(t, ok)
}

func TestRescheduleOrdersByWakeTime(t *testing.T) {
	idx := NewIndex()
	idx.Reschedule(1, true, 300)
	idx.Reschedule(2, true, 100)
	idx.Reschedule(3, true, 200)

	e, ok := idx.First()
	require.True(t, ok)
	require.Equal(t, uint32(2), e.QPNum)
	require.Equal(t, int64(100), idx.WakeupTime(0, 1000))
}

func TestTiebreakIsFIFOByFirstInsertion(t *testing.T) {
	idx := NewIndex()
	idx.Reschedule(10, true, 500) // tid 0
	idx.Reschedule(20, true, 500) // tid 1

	e, ok := idx.First()
	require.True(t, ok)
	require.Equal(t, uint32(10), e.QPNum, "equal wake times break ties FIFO by first insertion")
}

func TestRescheduleRemovesWhenNoWork(t *testing.T) {
	idx := NewIndex()
	idx.Reschedule(1, true, 100)
	require.True(t, idx.Contains(1))

	idx.Reschedule(1, false, 0)
	require.False(t, idx.Contains(1))
	require.Equal(t, 0, idx.Len())
}

func TestTIDStickyAcrossRescheduleCycles(t *testing.T) {
	idx := NewIndex()
	idx.Reschedule(1, true, 100)
	idx.Reschedule(1, false, 0) // evict
	idx.Reschedule(2, true, 100)
	idx.Reschedule(1, true, 100) // re-insert: keeps its original tid (0), older than qp 2's tid (1)

	e, _ := idx.First()
	require.Equal(t, uint32(1), e.QPNum)
}

func TestForgetResetsTiebreakSequence(t *testing.T) {
	idx := NewIndex()
	idx.Reschedule(1, true, 100)
	idx.Reschedule(1, false, 0)
	idx.Forget(1)
	idx.Reschedule(2, true, 100) // tid 1 (nextTID was already advanced to 1)
	idx.Reschedule(1, true, 100) // tid 2, now newer than qp 2

	e, _ := idx.First()
	require.Equal(t, uint32(2), e.QPNum)
}
