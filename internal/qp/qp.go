// Package qp implements the queue-pair object of spec §3/§4.4: per-QP
// attributes, the three send-WQE lists, the responder ack list and atomic
// duplicate-detection cache, and the list-surgery state machine that moves
// WQEs between SUBMITTED/SENDING/WAITING/FREE.
package qp

import "sync"

// Type is the QP transport type.
type Type int

const (
	TypeRC Type = iota
	TypeUD
	TypeSMI
	TypeGSI
)

// State is the QP's administrative state.
type State int

const (
	StateReset State = iota
	StateInit
	StateRTR
	StateRTS
	StateSQD
	StateSQE
	StateErr
)

// ListType is a send WQE's current list membership; exactly one of the
// three lists holds a WQE with FREE excluded (a FREE WQE belongs to no
// list, having been released back to the caller via a completion).
type ListType int

const (
	ListFree ListType = iota
	ListSubmitted
	ListSending
	ListWaiting
)

// WR is an immutable work request as submitted by the caller.
type WR struct {
	WRID       uint64
	Opcode     uint32
	Length     uint32
	RemoteAddr uint64
	RKey       uint32
	ImmData    uint32
	Signaled   bool
	Solicited  bool
	Fence      bool
	Inline     bool
	SGL        []byte // flattened scatter/gather payload for this emulator

	// SwapOrAdd and CompareData are the operands of an atomic
	// compare-and-swap or fetch-and-add; unused by every other opcode.
	SwapOrAdd   uint64
	CompareData uint64
}

// SendWQE pairs an immutable WR with its mutable processing state.
type SendWQE struct {
	WR WR

	ListType ListType

	BasedPSN     uint32
	ExpectedPSN  uint32
	AllPackets   uint32
	AckPackets   uint32
	SentPackets  uint32
	Status       uint32
	RetryCnt     uint8
	RNRRetry     uint8
	ScheduleTime int64
	LocalAckTime int64
}

// RecvWQE is a posted receive buffer.
type RecvWQE struct {
	WRID     uint64
	Capacity uint32
	Buf      []byte
}

// AtomicCacheEntry records the last response to a given PSN for duplicate
// detection on the responder side (spec §4.4 "Responder duplicate
// handling").
type AtomicCacheEntry struct {
	PSN      uint32
	OrigData uint64
}

// Sched is the scheduler sub-record spec §3 attaches to every QP.
type Sched struct {
	OnTree   bool
	WakeTime int64
	TID      uint64
}

// RecvAssembly tracks an in-progress multi-packet SEND/RDMA_WRITE message
// on the responder side, per spec §4.4's FIRST/MIDDLE/LAST/ONLY framing.
// Active is set when a FIRST packet opens a message and cleared when the
// matching LAST (or a standalone ONLY) packet closes it. RWQE is the posted
// receive buffer claimed for a SEND message's packets (nil for RDMA_WRITE,
// which targets a registered region instead); Bytes is the running byte
// count already written, serving as the next write offset since
// ClassifyPSN guarantees packets of one message arrive in emission order.
type RecvAssembly struct {
	Active bool
	RWQE   *RecvWQE
	Bytes  uint32
}

// QP is one queue pair. All list mutation and state transitions are
// expected to run on the owning device's single worker goroutine; Mu exists
// to protect the QP against concurrent access from external API callers
// enqueuing work while the worker is mid-iteration, per spec §5's per-QP
// lock discipline.
type QP struct {
	Mu sync.Mutex

	Num      uint32
	Type     Type
	State    State
	SendCQ   uint32
	RecvCQ   uint32
	PortNum  uint8
	PKeyIndex uint16

	MaxRdAtomic uint8
	RetryCnt    uint8
	RNRRetry    uint8
	MinRNRTimer uint8

	// Requester side.
	Submitted []*SendWQE
	Sending   []*SendWQE
	Waiting   []*SendWQE
	ExpectedPSN uint32
	NrRdAtomic  uint8

	// Responder side.
	RespPSN    uint32
	AckList    []*SendWQE // staged response WQEs (e.g. RDMA_READ responses)
	RecvList   []*RecvWQE
	AtomicCache []AtomicCacheEntry
	atomicCacheCap int
	Recv RecvAssembly

	Sched Sched
}

const defaultAtomicCacheCap = 8

// New creates a QP in RESET state.
func New(num uint32, typ Type) *QP {
	return &QP{
		Num:            num,
		Type:           typ,
		State:          StateReset,
		atomicCacheCap: defaultAtomicCacheCap,
	}
}

// PostSend appends a new WQE to the SUBMITTED list.
func (q *QP) PostSend(wr WR) *SendWQE {
	w := &SendWQE{WR: wr, ListType: ListSubmitted}
	q.Submitted = append(q.Submitted, w)
	return w
}

// PostRecv appends a posted receive buffer.
func (q *QP) PostRecv(wr RecvWQE) {
	q.RecvList = append(q.RecvList, &wr)
}

// PopRecv returns and removes the head RWQE, or nil if none are posted.
func (q *QP) PopRecv() *RecvWQE {
	if len(q.RecvList) == 0 {
		return nil
	}
	w := q.RecvList[0]
	q.RecvList = q.RecvList[1:]
	return w
}

// Dispatchable reports whether the submitted-list head can leave SUBMITTED
// per spec §4.4: QP in RTS, fence clear of in-flight reads/atomics, and
// (for READ/atomic ops) read-atomic depth under max_rd_atomic.
func (q *QP) Dispatchable(isReadOrAtomic func(opcode uint32) bool) bool {
	if q.State != StateRTS || len(q.Submitted) == 0 {
		return false
	}
	head := q.Submitted[0]
	if head.WR.Fence && q.NrRdAtomic != 0 {
		return false
	}
	if isReadOrAtomic(head.WR.Opcode) && q.NrRdAtomic >= q.MaxRdAtomic {
		return false
	}
	return true
}

// Dispatch moves the SUBMITTED head to SENDING, assigning PSNs and timers
// per spec §4.4. pathMTU and now are supplied by the caller (the RC/UD
// engine); NrRdAtomic is incremented when isReadOrAtomic reports the op is
// a RDMA_READ or atomic.
func (q *QP) Dispatch(now, schedTimeout int64, pathMTU uint32, isReadOrAtomic func(opcode uint32) bool) *SendWQE {
	if len(q.Submitted) == 0 {
		return nil
	}
	w := q.Submitted[0]
	q.Submitted = q.Submitted[1:]

	if isReadOrAtomic(w.WR.Opcode) {
		q.NrRdAtomic++
	}

	numPackets := ceilDiv(w.WR.Length, pathMTU)
	if numPackets == 0 {
		numPackets = 1
	}
	w.BasedPSN = q.ExpectedPSN
	w.AllPackets = numPackets
	w.ExpectedPSN = w.BasedPSN + numPackets
	q.ExpectedPSN += numPackets

	w.ScheduleTime = now
	w.LocalAckTime = now + schedTimeout
	w.RetryCnt = q.RetryCnt
	w.RNRRetry = q.RNRRetry
	w.ListType = ListSending
	q.Sending = append(q.Sending, w)
	return w
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 1
	}
	return (a + b - 1) / b
}

// MoveToWaiting transitions a SENDING wqe (identified by WRID) to WAITING
// once all of its packets have been emitted. Returns false if not found.
func (q *QP) MoveToWaiting(wrID uint64) bool {
	for i, w := range q.Sending {
		if w.WR.WRID != wrID {
			continue
		}
		q.Sending = append(q.Sending[:i], q.Sending[i+1:]...)
		w.ListType = ListWaiting
		q.Waiting = append(q.Waiting, w)
		return true
	}
	return false
}

// CompleteWaitingThrough removes every waiting WQE whose last PSN
// (ExpectedPSN-1) is less than or equal to ackPSN (an ACK covering that
// PSN completes the
// WQE per the state machine in spec §4.4), decrementing NrRdAtomic for
// read/atomic ops, and returns the completed WQEs in order.
func (q *QP) CompleteWaitingThrough(ackPSN uint32, isReadOrAtomic func(opcode uint32) bool) []*SendWQE {
	var done []*SendWQE
	var remain []*SendWQE
	for _, w := range q.Waiting {
		if psnLTE(w.ExpectedPSN-1, ackPSN) {
			w.ListType = ListFree
			if isReadOrAtomic(w.WR.Opcode) && q.NrRdAtomic > 0 {
				q.NrRdAtomic--
			}
			done = append(done, w)
			continue
		}
		remain = append(remain, w)
	}
	q.Waiting = remain
	return done
}

// psnLTE compares 24-bit PSNs with wraparound, a <= b.
func psnLTE(a, b uint32) bool {
	const mask = 0x00FFFFFF
	diff := (b - a) & mask
	return diff < (mask / 2)
}

// RewindWaitingToSending moves every WAITING WQE back to the head of the
// SENDING list in order, resetting SentPackets = AckPackets so
// retransmission resumes at the first unacked PSN (spec §4.4 retransmit).
func (q *QP) RewindWaitingToSending() {
	if len(q.Waiting) == 0 {
		return
	}
	for _, w := range q.Waiting {
		w.SentPackets = w.AckPackets
		w.ListType = ListSending
	}
	q.Sending = append(append([]*SendWQE{}, q.Waiting...), q.Sending...)
	q.Waiting = nil
}

// CacheAtomicResponse records a response for duplicate detection, evicting
// the oldest entry once the cache is full.
func (q *QP) CacheAtomicResponse(psn uint32, origData uint64) {
	entry := AtomicCacheEntry{PSN: psn, OrigData: origData}
	if len(q.AtomicCache) >= q.atomicCacheCap {
		q.AtomicCache = q.AtomicCache[1:]
	}
	q.AtomicCache = append(q.AtomicCache, entry)
}

// LookupAtomicResponse returns the cached response for psn, if any.
func (q *QP) LookupAtomicResponse(psn uint32) (AtomicCacheEntry, bool) {
	for _, e := range q.AtomicCache {
		if e.PSN == psn {
			return e, true
		}
	}
	return AtomicCacheEntry{}, false
}

// FlushToErr moves every WQE in every requester list to FLUSH_ERR status
// and returns them for the caller to post error completions, then clears
// the lists. Used on CQ overflow sweep and retry exhaustion.
func (q *QP) FlushToErr(flushErrStatus uint32) []*SendWQE {
	var all []*SendWQE
	for _, list := range [][]*SendWQE{q.Submitted, q.Sending, q.Waiting} {
		for _, w := range list {
			w.Status = flushErrStatus
			w.ListType = ListFree
			all = append(all, w)
		}
	}
	q.Submitted = nil
	q.Sending = nil
	q.Waiting = nil
	q.State = StateErr
	return all
}
