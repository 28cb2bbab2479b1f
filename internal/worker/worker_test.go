package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunDrainsRecvAndRunsSchedulerPass(t *testing.T) {
	var recvCalls atomic.Int32
	var schedCalls atomic.Int32
	recvBudget := atomic.Int32{}
	recvBudget.Store(3)

	w := New(Config{
		HorizonNs: int64(50 * time.Millisecond),
		OnRecv: func() bool {
			if recvBudget.Add(-1) >= 0 {
				recvCalls.Add(1)
				return true
			}
			return false
		},
		OnSchedulerPass: func(now int64) int64 {
			schedCalls.Add(1)
			return now + int64(time.Second)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	w.SignalRecv()
	require.Eventually(t, func() bool { return recvCalls.Load() == 3 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return schedCalls.Load() >= 1 }, time.Second, time.Millisecond)

	cancel()
	w.Wait()
}

func TestDeferredWorkRunsUnderWQFlag(t *testing.T) {
	done := make(chan struct{}, 1)
	w := New(Config{
		HorizonNs: int64(50 * time.Millisecond),
		OnSchedulerPass: func(now int64) int64 {
			return now + int64(time.Second)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	w.Defer(func() { done <- struct{}{} })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deferred work did not run")
	}

	cancel()
	w.Wait()
}

func TestStopExitsLoopPromptly(t *testing.T) {
	w := New(Config{HorizonNs: int64(time.Second)})
	ctx := context.Background()

	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	w.Stop()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop promptly")
	}
}
