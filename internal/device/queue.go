package device

import (
	"context"
	"sync"
)

// Queue serializes concurrent callers onto the protocol client. The
// transport is a single logical channel with one DMA buffer, so exactly one
// command may be in flight; everyone else waits in FIFO order.
//
// This is the only mutual-exclusion boundary in the system. Info refresh,
// storage refresh, settings, time sync, listing and transfer all funnel
// through it, so "parallel" callers degrade to serialized latency. That is
// the expected property of a single physical USB endpoint, not a bug.
type Queue struct {
	mu      sync.Mutex
	busy    bool
	waiters []*waiter
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// NewQueue returns an idle command queue.
func NewQueue() *Queue { return &Queue{} }

// WithLock runs fn while holding the single command slot. Callers are
// admitted in FIFO order. If fn times out internally the slot is still
// released, so a timed-out command never deadlocks the queue. A caller whose
// context is cancelled while still waiting withdraws without side effects;
// once fn starts it always runs to completion (the protocol has no cancel
// primitive).
func (q *Queue) WithLock(ctx context.Context, fn func() error) error {
	if err := q.acquire(ctx); err != nil {
		return err
	}
	defer q.release()
	return fn()
}

func (q *Queue) acquire(ctx context.Context) error {
	q.mu.Lock()
	if !q.busy {
		q.busy = true
		q.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		if w.granted {
			// Lost the race: the slot was handed to us as we cancelled.
			// Pass it on so the queue keeps advancing.
			q.mu.Unlock()
			q.release()
			return ctx.Err()
		}
		for i, other := range q.waiters {
			if other == w {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
		return ctx.Err()
	}
}

func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiters) == 0 {
		q.busy = false
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	next.granted = true
	close(next.ready)
}

// Pending returns the number of callers waiting for the command slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}
