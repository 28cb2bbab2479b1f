package worker

import "sync/atomic"

// Flag bits for the device worker's wakeup word, per spec §4.6.
const (
	FlagReadyToRecv uint32 = 1 << iota
	FlagWQSchedule
	FlagQPSchedule
	FlagStop
)

// flagWord is a compare-and-swap bitset; sync/atomic's Uint32 has no
// bitwise Or/And helpers on the go1.22 toolchain this module targets, so
// set/clear loop on CompareAndSwap instead.
type flagWord struct {
	v atomic.Uint32
}

func (f *flagWord) set(bits uint32) {
	for {
		old := f.v.Load()
		if old&bits == bits {
			return
		}
		if f.v.CompareAndSwap(old, old|bits) {
			return
		}
	}
}

func (f *flagWord) clear(bits uint32) {
	for {
		old := f.v.Load()
		if old&bits == 0 {
			return
		}
		if f.v.CompareAndSwap(old, old&^bits) {
			return
		}
	}
}

func (f *flagWord) load() uint32 {
	return f.v.Load()
}

// drainAll atomically reads and clears every bit, returning the bits that
// were set, so a caller can act on a consistent snapshot.
func (f *flagWord) drainAll() uint32 {
	for {
		old := f.v.Load()
		if f.v.CompareAndSwap(old, 0) {
			return old
		}
	}
}
