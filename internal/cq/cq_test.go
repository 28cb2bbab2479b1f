package cq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateConservation(t *testing.T) {
	c := New(4, nil, nil)
	require.True(t, c.Conserved())
	require.Equal(t, 4, c.Cap())
}

func TestInsertAndPollFIFO(t *testing.T) {
	c := New(4, nil, nil)
	require.NoError(t, c.InsertSuccess(WC{WRID: 1}, false))
	require.NoError(t, c.InsertSuccess(WC{WRID: 2}, false))

	out := make([]WC, 4)
	n, err := c.Poll(4, out)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, uint64(1), out[0].WRID)
	require.Equal(t, uint64(2), out[1].WRID)
	require.True(t, c.Conserved())
}

func TestHasNotifiedStartsTrue(t *testing.T) {
	fired := 0
	c := New(4, func(bool) { fired++ }, nil)
	require.NoError(t, c.InsertSuccess(WC{WRID: 1}, false))
	require.Equal(t, 0, fired, "callback must not fire before the first req_notify")
}

func TestReqNotifyFiresOnceThenRearmRequired(t *testing.T) {
	fired := 0
	c := New(4, func(bool) { fired++ }, nil)
	c.ReqNotify(NotifyNextComp, false)

	require.NoError(t, c.InsertSuccess(WC{WRID: 1}, false))
	require.Equal(t, 1, fired)

	require.NoError(t, c.InsertSuccess(WC{WRID: 2}, false))
	require.Equal(t, 1, fired, "second completion must not fire without a fresh req_notify")
}

func TestReentrantReqNotifyRearms(t *testing.T) {
	c := New(4, nil, nil)
	c.onComplete = func(bool) {
		// Reentrant rearm from inside the callback.
		c.ReqNotify(NotifyNextComp, false)
	}
	fired := 0
	c.onComplete = func(bool) {
		fired++
		c.ReqNotify(NotifyNextComp, false)
	}
	c.ReqNotify(NotifyNextComp, false)

	require.NoError(t, c.InsertSuccess(WC{WRID: 1}, false))
	require.Equal(t, 1, fired)
	require.NoError(t, c.InsertSuccess(WC{WRID: 2}, false))
	require.Equal(t, 2, fired, "reentrant req_notify inside the callback must arm the next cycle")
}

func TestSolicitedGating(t *testing.T) {
	fired := 0
	c := New(4, func(bool) { fired++ }, nil)
	c.ReqNotify(NotifySolicited, false)

	require.NoError(t, c.InsertSuccess(WC{WRID: 1}, false))
	require.Equal(t, 0, fired, "unsolicited completion must not fire a solicited-only notify")

	require.NoError(t, c.InsertSuccess(WC{WRID: 2}, true))
	require.Equal(t, 1, fired)
}

func TestOverflowTransitionsToErrAndInvokesHandler(t *testing.T) {
	var overflowed *CQ
	c := New(1, nil, func(cc *CQ) { overflowed = cc })

	require.NoError(t, c.InsertSuccess(WC{WRID: 1}, false))
	err := c.InsertSuccess(WC{WRID: 2}, false)
	require.ErrorIs(t, err, ErrNoMem)
	require.Equal(t, StateErr, c.State())
	require.Same(t, c, overflowed)

	out := make([]WC, 4)
	_, err = c.Poll(4, out)
	require.ErrorIs(t, err, ErrState)
}

func TestInsertErrorCorruptionHook(t *testing.T) {
	c := New(4, nil, nil)
	err := c.InsertError(WC{WRID: 1, Opcode: 5}, func(wc *WC) {
		wc.Opcode = 0xDEAD
	})
	require.NoError(t, err)

	out := make([]WC, 1)
	n, err := c.Poll(1, out)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint32(0xDEAD), out[0].Opcode)
}

func TestRemoveByQP(t *testing.T) {
	c := New(4, nil, nil)
	require.NoError(t, c.InsertSuccess(WC{WRID: 1, QPNum: 7}, false))
	require.NoError(t, c.InsertSuccess(WC{WRID: 2, QPNum: 9}, false))
	require.NoError(t, c.InsertSuccess(WC{WRID: 3, QPNum: 7}, false))

	c.RemoveByQP(7)
	require.True(t, c.Conserved())

	out := make([]WC, 4)
	n, _ := c.Poll(4, out)
	require.Equal(t, 1, n)
	require.Equal(t, uint32(9), out[0].QPNum)
}
