// Package worker implements the device event loop of spec §4.6: a
// single-threaded cooperative loop multiplexing per-port receive,
// scheduler wakeups, and a deferred work queue, draining in RECV→WQ→QP
// order before running one scheduler pass per iteration. A context-
// cancelable goroutine loop wakes on a flag-word signal rather than
// blocking on real I/O, so it runs the same way under test as in
// production.
package worker

import (
	"context"
	"sync"
	"time"
)

// Clock returns the current time as monotonic nanoseconds. Supplied by the
// caller so tests can use a fake clock; when Config.Clock is nil, New uses
// time.Now().UnixNano. Run reads it at the top of each iteration and again
// before the scheduler pass.
type Clock func() int64

// Config configures a Worker.
type Config struct {
	Clock Clock
	// HorizonNs bounds the maximum wait between scheduler passes even when
	// nothing is scheduled, so a newly-submitted WQE is never delayed more
	// than this before its first scheduling opportunity.
	HorizonNs int64

	// OnRecv drains one unit of receive work from the device's ports and
	// reports whether it did anything; the worker calls it repeatedly
	// until it returns false (drain to quiescence).
	OnRecv func() bool

	// OnSchedulerPass runs exactly once per loop iteration regardless of
	// which flags fired, and returns the absolute time of the next
	// scheduler-relevant wakeup.
	OnSchedulerPass func(now int64) (nextWakeup int64)

	// Deferred work queue callbacks are pushed via Worker.Defer and run
	// under this loop, never inline from a receive callback, per spec
	// §4.6's "handlers may not block" rule.
}

// Worker is the device's single cooperative event loop.
type Worker struct {
	cfg   Config
	flags flagWord

	mu       sync.Mutex
	deferred []func()

	wake chan struct{}
	done chan struct{}
}

const defaultHorizonNs = 100 * int64(time.Millisecond)

// New creates a Worker. Call Run in its own goroutine to start the loop.
func New(cfg Config) *Worker {
	if cfg.Clock == nil {
		cfg.Clock = func() int64 { return time.Now().UnixNano() }
	}
	if cfg.HorizonNs == 0 {
		cfg.HorizonNs = defaultHorizonNs
	}
	return &Worker{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// notify wakes the loop if it is currently blocked in its wait.
func (w *Worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// SignalRecv marks that one or more ports have data ready.
func (w *Worker) SignalRecv() {
	w.flags.set(FlagReadyToRecv)
	w.notify()
}

// SignalQPSchedule marks that a QP's wake time has arrived.
func (w *Worker) SignalQPSchedule() {
	w.flags.set(FlagQPSchedule)
	w.notify()
}

// Defer enqueues fn on the deferred work queue and signals WQ_SCHEDULE.
// fn must not block (spec §4.6).
func (w *Worker) Defer(fn func()) {
	w.mu.Lock()
	w.deferred = append(w.deferred, fn)
	w.mu.Unlock()
	w.flags.set(FlagWQSchedule)
	w.notify()
}

// Stop requests clean shutdown: the worker completes its current
// iteration and exits without draining further (spec §5 "Cancellation").
func (w *Worker) Stop() {
	w.flags.set(FlagStop)
	w.notify()
}

// Run executes the event loop until Stop is called or ctx is cancelled.
// It closes Worker.done on exit; callers join via Wait.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	var nextWakeup int64
	for {
		now := w.cfg.Clock()
		timeout := nextWakeup - now
		if timeout < 0 {
			timeout = 0
		}
		if timeout > w.cfg.HorizonNs {
			timeout = w.cfg.HorizonNs
		}

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-time.After(time.Duration(timeout)):
		}

		if w.flags.load()&FlagStop != 0 {
			return
		}

		// Drain every flag to quiescence, RECV → WQ → QP order.
		for {
			bits := w.flags.drainAll()
			if bits == 0 {
				break
			}
			if bits&FlagReadyToRecv != 0 && w.cfg.OnRecv != nil {
				for w.cfg.OnRecv() {
				}
			}
			if bits&FlagWQSchedule != 0 {
				w.drainDeferred()
			}
			// FlagQPSchedule carries no separate action: the unconditional
			// scheduler pass below is what QP_SCHEDULE wakes the loop for.
		}

		now = w.cfg.Clock()
		if w.cfg.OnSchedulerPass != nil {
			nextWakeup = w.cfg.OnSchedulerPass(now)
		} else {
			nextWakeup = now + w.cfg.HorizonNs
		}
	}
}

// drainDeferred runs every queued deferred callback in FIFO order.
func (w *Worker) drainDeferred() {
	w.mu.Lock()
	work := w.deferred
	w.deferred = nil
	w.mu.Unlock()

	for _, fn := range work {
		fn()
	}
}

// Wait blocks until Run has returned.
func (w *Worker) Wait() {
	<-w.done
}
