// Package cq implements the completion-queue semantics of the reference
// driver's pib_cq.c: a fixed-capacity free-list/pending-list of CQE slots,
// req_notify/has_notified gating, and the overflow-to-ERR async handler
// shared by both the RC and UD engines.
package cq

import (
	"errors"
	"sync"
)

// State is the lifecycle state of a CQ.
type State int

const (
	StateOK State = iota
	StateErr
)

// NotifyFlag mirrors ib_cq_notify_flags.
type NotifyFlag int

const (
	NotifyNone NotifyFlag = iota
	NotifySolicited
	NotifyNextComp
)

var (
	// ErrNoMem is returned by InsertSuccess/InsertError when the CQE pool is
	// exhausted.
	ErrNoMem = errors.New("cq: no free cqe slots")
	// ErrState is returned by Poll when the CQ has transitioned to ERR.
	ErrState = errors.New("cq: completion queue in error state")
)

// WC is a work completion. QPNum back-references the originating QP solely
// for RemoveByQP filtering; it carries no other meaning to this package.
type WC struct {
	WRID       uint64
	QPNum      uint32
	Opcode     uint32
	Status     uint32
	ByteLen    uint32
	ImmData    uint32
	WCFlags    uint32
	PKeyIndex  uint16
	SLID       uint16
	SL         uint8
	DLIDPathBits uint8
	Solicited  bool
}

// OverflowHandler is invoked directly, with the CQ lock released, when an
// insert finds the free-list exhausted. It must not block; any real work
// belongs on the device's deferred work queue.
type OverflowHandler func(c *CQ)

// CQ is a fixed-capacity completion queue. All exported methods are
// goroutine-safe; the device worker and external API callers may call
// them concurrently.
type CQ struct {
	mu sync.Mutex

	cap     int
	pending []WC
	free    int // count of free slots; capacity bookkeeping only, no slot objects needed

	state      State
	notify     NotifyFlag
	hasNotified bool

	onComplete func(solicited bool)
	onOverflow OverflowHandler
}

// New creates a CQ with cap preallocated CQE slots. Per the original
// driver's create_cq, has_notified starts true: the very first completion
// after creation does not fire the callback until a req_notify clears it.
func New(capacity int, onComplete func(solicited bool), onOverflow OverflowHandler) *CQ {
	return &CQ{
		cap:         capacity,
		free:        capacity,
		hasNotified: true,
		onComplete:  onComplete,
		onOverflow:  onOverflow,
	}
}

// Cap returns the CQ's configured capacity.
func (c *CQ) Cap() int {
	return c.cap
}

// Len returns the number of pending (unpolled) CQEs.
func (c *CQ) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// State returns the current CQ state.
func (c *CQ) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Poll drains up to n CQEs in FIFO order into out, returning the actual
// count copied. Fails with ErrState if the CQ has transitioned to ERR.
func (c *CQ) Poll(n int, out []WC) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateErr {
		return 0, ErrState
	}
	count := n
	if count > len(c.pending) {
		count = len(c.pending)
	}
	if count > len(out) {
		count = len(out)
	}
	copy(out, c.pending[:count])
	c.pending = c.pending[count:]
	c.free += count
	return count, nil
}

// ReqNotify arms the next-completion callback. If missedEvents is true and
// the CQ already holds pending CQEs, it returns true so the caller knows an
// event was missed while notification was disarmed.
func (c *CQ) ReqNotify(flag NotifyFlag, missedEvents bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = flag
	c.hasNotified = false
	return missedEvents && len(c.pending) > 0
}

// InsertSuccess appends a successful completion. On overflow it transitions
// the CQ to ERR, schedules the overflow handler (the caller is expected to
// have already queued it onto the device's deferred work queue if
// onOverflow itself does that; this package invokes onOverflow directly and
// synchronously since it holds no device reference of its own) and returns
// ErrNoMem.
func (c *CQ) InsertSuccess(wc WC, solicited bool) error {
	c.mu.Lock()
	if c.free == 0 {
		c.state = StateErr
		handler := c.onOverflow
		c.mu.Unlock()
		if handler != nil {
			handler(c)
		}
		return ErrNoMem
	}
	c.free--
	wc.Solicited = solicited
	c.pending = append(c.pending, wc)

	fire := c.shouldFire(solicited)
	if fire {
		// has_notified is set before the callback runs so a reentrant
		// ReqNotify from inside the callback arms the next cycle correctly.
		c.hasNotified = true
	}
	cb := c.onComplete
	c.mu.Unlock()

	if fire && cb != nil {
		cb(solicited)
	}
	return nil
}

// InsertError appends a completion carrying an error status. corrupt, when
// non-nil, implements the CORRUPT_INVALID_WC_ATTRS behavior-flag
// fault-injection hook: it may scribble the WC's caller-visible
// attributes before the slot is inserted.
func (c *CQ) InsertError(wc WC, corrupt func(*WC)) error {
	if corrupt != nil {
		corrupt(&wc)
	}
	return c.InsertSuccess(wc, false)
}

// shouldFire reports whether the completion callback fires for this event,
// given the current notify flag and hasNotified gate. Caller holds c.mu.
func (c *CQ) shouldFire(solicited bool) bool {
	if c.hasNotified {
		return false
	}
	switch c.notify {
	case NotifyNextComp:
		return true
	case NotifySolicited:
		return solicited
	default:
		return false
	}
}

// RemoveByQP moves every pending CQE whose QPNum matches qpNum to the free
// list, used on QP destroy or QP to RESET.
func (c *CQ) RemoveByQP(qpNum uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	removed := 0
	for _, wc := range c.pending {
		if wc.QPNum == qpNum {
			removed++
			continue
		}
		kept = append(kept, wc)
	}
	c.pending = kept
	c.free += removed
}

// Conserved reports whether |pending|+|free| == cap, the universal CQ
// invariant checked by tests.
func (c *CQ) Conserved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)+c.free == c.cap
}
