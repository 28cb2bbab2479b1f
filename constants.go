package pib

import "time"

// Fabric-wide defaults, grounded in spec §3/§4's structural constants.
const (
	// DefaultCQDepth is the completion queue capacity a Device gets when
	// Options.CQDepth is left zero.
	DefaultCQDepth = 256

	// DefaultQPSendDepth/DefaultQPRecvDepth are nominal per-QP WQE depths;
	// PostSend and PostRecv do not check them, so a QP's lists are not
	// bounded by these values.
	DefaultQPSendDepth = 128
	DefaultQPRecvDepth = 128

	// DefaultPortsPerDevice is the port count a Device gets when
	// Options.NumPorts is left zero.
	DefaultPortsPerDevice = 1

	// MCastLIDBase is the first multicast LID, mirrored from
	// internal/switchcore so callers assembling address tables don't need
	// to import that package just for the constant.
	MCastLIDBase uint16 = 0xC000

	// DefaultRetryCount and DefaultRNRRetryCount are the retry budgets
	// CreateQP gives each new QP. DefaultRetryCount bounds retransmits before
	// a WR completes in error; DefaultRNRRetryCount equals
	// rc.RNRInfiniteRetry, so RNR NAKs are retried without limit by default.
	DefaultRetryCount    = 7
	DefaultRNRRetryCount = 7

	// DefaultRNRTimer is the minimum delay an RNR NAK asks the requester
	// to wait before resending, absent an explicit timer value in the NAK.
	DefaultRNRTimer = 10 * time.Millisecond

	// DefaultLocalAckTimeout bounds how long the requester waits for an
	// ACK before treating a send as needing retransmission.
	DefaultLocalAckTimeout = 100 * time.Millisecond

	// MaxMTU is the largest single-packet payload this emulator carries;
	// a send larger than this is packetized across multiple datagrams.
	MaxMTU = 4096
)
