// Package sched implements the device's QP scheduler index: a balanced
// ordered set keyed by (wake_time, tid) with tid as a monotone tiebreak,
// as described by spec §4.3. No ordered-set/priority-queue library appears
// anywhere in the retrieval pack (checked across every go.mod), so this is
// built on the standard library's container/heap — see DESIGN.md for the
// required justification.
package sched

import "container/heap"

// Entry is a schedulable QP handle. TID is assigned once, at the QP's
// first insertion, by the device-global counter; it never changes for the
// lifetime of the QP and is used purely as a FIFO tiebreak on equal
// WakeTime values.
type Entry struct {
	QPNum    uint32
	TID      uint64
	WakeTime int64 // monotonic nanoseconds

	index int // heap-internal, maintained by container/heap callbacks
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].WakeTime != h[j].WakeTime {
		return h[i].WakeTime < h[j].WakeTime
	}
	return h[i].TID < h[j].TID
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Index is the device-wide scheduler: one Entry per QP that currently has
// deterministic work to perform before the scheduling horizon.
type Index struct {
	h       entryHeap
	byQP    map[uint32]*Entry
	tids    map[uint32]uint64 // sticky per-QP tiebreak, assigned once and never reclaimed
	nextTID uint64
}

// NewIndex creates an empty scheduler index.
func NewIndex() *Index {
	return &Index{byQP: make(map[uint32]*Entry), tids: make(map[uint32]uint64)}
}

// Reschedule removes qpNum if present and, when hasWork is true, (re)inserts
// it with the given wakeTime. This is the sole mutation entrypoint: callers
// recompute wakeTime from scratch (min over pending-ack/waiting-head/
// sending-head/submitted-head candidates per spec §4.3) and call Reschedule
// after every mutation of the QP's lists or state.
func (idx *Index) Reschedule(qpNum uint32, hasWork bool, wakeTime int64) {
	if e, ok := idx.byQP[qpNum]; ok {
		heap.Remove(&idx.h, e.index)
		delete(idx.byQP, qpNum)
	}
	if !hasWork {
		return
	}
	tid, ok := idx.tids[qpNum]
	if !ok {
		tid = idx.nextTID
		idx.nextTID++
		idx.tids[qpNum] = tid
	}
	e := &Entry{QPNum: qpNum, WakeTime: wakeTime, TID: tid}
	idx.byQP[qpNum] = e
	heap.Push(&idx.h, e)
}

// Forget releases qpNum's sticky tiebreak, called on QP destroy so a later
// QP number reuse starts a fresh tiebreak sequence.
func (idx *Index) Forget(qpNum uint32) {
	delete(idx.tids, qpNum)
}

// First returns the earliest-waking entry, or (Entry{}, false) if the
// index is empty.
func (idx *Index) First() (Entry, bool) {
	if len(idx.h) == 0 {
		return Entry{}, false
	}
	return *idx.h[0], true
}

// Contains reports whether qpNum currently has a scheduler entry.
func (idx *Index) Contains(qpNum uint32) bool {
	_, ok := idx.byQP[qpNum]
	return ok
}

// Len returns the number of scheduled QPs.
func (idx *Index) Len() int { return len(idx.h) }

// WakeupTime returns the device's next wakeup time: the earliest entry's
// WakeTime, or now+horizon if the index is empty.
func (idx *Index) WakeupTime(now int64, horizon int64) int64 {
	if e, ok := idx.First(); ok {
		return e.WakeTime
	}
	return now + horizon
}
