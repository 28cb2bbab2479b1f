package ud

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ibemu/pib/internal/cq"
	"github.com/ibemu/pib/internal/mcast"
	"github.com/ibemu/pib/internal/qp"
)

func TestSendCompletesImmediatelyWhenSignaled(t *testing.T) {
	q := qp.New(1, qp.TypeUD)
	sendCQ := cq.New(4, nil, nil)
	wqe := q.PostSend(qp.WR{WRID: 1, Length: 100, Signaled: true})

	Send(q, sendCQ, wqe, 256)

	require.Equal(t, 1, sendCQ.Len())
	out := make([]cq.WC, 1)
	n, err := sendCQ.Poll(1, out)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint32(100), out[0].ByteLen)
}

func TestSendUnsignaledDoesNotComplete(t *testing.T) {
	q := qp.New(1, qp.TypeUD)
	sendCQ := cq.New(4, nil, nil)
	wqe := q.PostSend(qp.WR{WRID: 1, Length: 100, Signaled: false})

	Send(q, sendCQ, wqe, 256)
	require.Equal(t, 0, sendCQ.Len())
}

func TestDeliverDropsSilentlyWithNoPostedRecv(t *testing.T) {
	q := qp.New(2, qp.TypeUD)
	recvCQ := cq.New(4, nil, nil)
	delivered := Deliver(q, recvCQ, []byte("hi"), 0, false, 5)
	require.False(t, delivered)
	require.Equal(t, 0, recvCQ.Len())
}

func TestDeliverMatchesFirstRecv(t *testing.T) {
	q := qp.New(2, qp.TypeUD)
	recvCQ := cq.New(4, nil, nil)
	q.PostRecv(qp.RecvWQE{WRID: 9, Buf: make([]byte, 16)})

	delivered := Deliver(q, recvCQ, []byte("hello world"), 0, false, 5)
	require.True(t, delivered)

	out := make([]cq.WC, 1)
	n, _ := recvCQ.Poll(1, out)
	require.Equal(t, 1, n)
	require.Equal(t, uint32(11), out[0].ByteLen)
}

func TestMulticastFanInExcludesSender(t *testing.T) {
	table := mcast.NewDeviceTable()
	qA := qp.New(10, qp.TypeUD)
	qB := qp.New(11, qp.TypeUD)
	qSender := qp.New(12, qp.TypeUD)

	cqA := cq.New(4, nil, nil)
	cqB := cq.New(4, nil, nil)

	qA.PostRecv(qp.RecvWQE{WRID: 1, Buf: make([]byte, 16)})
	qB.PostRecv(qp.RecvWQE{WRID: 2, Buf: make([]byte, 16)})

	sender := mcast.Member{PortLID: 1, QPNum: qSender.Num}
	table.Attach(100, mcast.Member{PortLID: 1, QPNum: qA.Num})
	table.Attach(100, mcast.Member{PortLID: 1, QPNum: qB.Num})
	table.Attach(100, sender)

	resolve := func(qpNum uint32) (*qp.QP, *cq.CQ, bool) {
		switch qpNum {
		case qA.Num:
			return qA, cqA, true
		case qB.Num:
			return qB, cqB, true
		}
		return nil, nil, false
	}

	delivered := DeliverMulticast(table, 100, sender, resolve, []byte("mc"), 0, false, 1)
	require.Equal(t, 2, delivered)
	require.Equal(t, 1, cqA.Len())
	require.Equal(t, 1, cqB.Len())
}
