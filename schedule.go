// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/task"
)

// scheduler is a partition's transaction queue and admission control.
// Queued transactions are admitted while
//
//	active < maxParallel && (active == 0 || active*100 < pointCount)
//
// so a sparse mesh runs few transactions at once and conflicts stay rare.
// In multithreaded mode a task.Pool of maxParallel workers pulls admitted
// transactions; otherwise the space pumps every queue on the caller's
// goroutine.
type scheduler struct {
	p *Partition

	mu            sync.Mutex
	cond          *sync.Cond
	queue         txnQueue
	active        int
	delayed       int // retries waiting out their backoff
	maxParallel   int
	maxDivergence float64
	multithreaded bool
	closed        bool

	// changed is closed and replaced whenever active or the queue shrinks.
	changed chan struct{}

	pool *task.Pool
}

type poolStats struct {
	part string
}

func (s poolStats) PoolSize(n int) {
	GaugePoolSize.WithLabelValues(s.part).Set(float64(n))
}

func (s *scheduler) init(p *Partition, maxParallel int, maxDivergence float64, multithreaded bool) {
	if maxParallel < 1 {
		maxParallel = 1
	}
	s.p = p
	s.cond = sync.NewCond(&s.mu)
	s.maxParallel = maxParallel
	s.maxDivergence = maxDivergence
	s.multithreaded = multithreaded
	s.changed = make(chan struct{})
}

func (s *scheduler) start() {
	if s.multithreaded {
		s.pool = task.NewPool(s.maxParallel, s.step, poolStats{part: strconv.Itoa(s.p.id)})
	}
}

// notify wakes workers and reliability waiters. Callers hold s.mu.
func (s *scheduler) notify() {
	s.cond.Broadcast()
	close(s.changed)
	s.changed = make(chan struct{})
	GaugeQueueDepth.WithLabelValues(strconv.Itoa(s.p.id)).Set(float64(s.queue.Len()))
}

func (s *scheduler) admits() bool {
	if s.queue.Len() == 0 || s.active >= s.maxParallel {
		return false
	}
	return s.active == 0 || int64(s.active)*100 < atomic.LoadInt64(&s.p.pointCount)
}

// enqueue adds t to the queue. In synchronous mode the caller then runs
// queued work to completion unless it is already doing so further up its
// stack.
func (s *scheduler) enqueue(t *Txn) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New(errors.ErrClosed, "partition closed")
	}
	t.home = s.p
	s.queue.push(t)
	s.notify()
	s.mu.Unlock()
	if !s.multithreaded {
		s.p.space.pump()
	}
	return nil
}

// retryLater puts t back on the queue after d. Until then it counts as
// backlog, so reliability and idleness still account for it.
func (s *scheduler) retryLater(t *Txn, d time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.p.space.finish(t, errors.New(errors.ErrClosed, "partition closed"))
		return
	}
	s.delayed++
	s.mu.Unlock()
	time.AfterFunc(d, func() {
		s.mu.Lock()
		if !s.closed {
			t.home = s.p
			s.queue.push(t)
			s.delayed--
			s.notify()
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.p.space.finish(t, errors.New(errors.ErrClosed, "partition closed"))
		s.mu.Lock()
		s.delayed--
		s.notify()
		s.mu.Unlock()
	})
}

// runOne executes the next queued transaction on the calling goroutine.
// It returns false if the queue was empty.
func (s *scheduler) runOne() bool {
	s.mu.Lock()
	t := s.queue.pop()
	if t == nil {
		s.mu.Unlock()
		return false
	}
	s.active++
	s.notify()
	s.mu.Unlock()
	s.p.execute(t)
	s.activeProcessHasFinished()
	return true
}

// step is one iteration of a pool worker: wait for an admissible
// transaction, run it, and account for its completion.
func (s *scheduler) step() {
	s.mu.Lock()
	for !s.closed && !s.admits() {
		s.cond.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return
	}
	t := s.queue.pop()
	s.active++
	s.notify()
	s.mu.Unlock()
	s.p.execute(t)
	s.activeProcessHasFinished()
}

// activeProcessHasFinished retires a running transaction and re-runs
// admission.
func (s *scheduler) activeProcessHasFinished() {
	s.mu.Lock()
	s.active--
	s.notify()
	s.mu.Unlock()
}

// backlog returns queued plus running transactions.
func (s *scheduler) backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len() + s.active + s.delayed
}

func (s *scheduler) reliableLocked() bool {
	n := s.queue.Len() + s.active + s.delayed
	return n == 0 || s.maxDivergence*float64(atomic.LoadInt64(&s.p.pointCount)) > float64(n)
}

// isReliable reports whether committed state is close enough to the
// requested state for queries: the partition is idle, or its backlog is
// below maxDivergence of its point count.
func (s *scheduler) isReliable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reliableLocked()
}

// waitUntil blocks until cond holds or ctx is done.
func (s *scheduler) waitUntil(ctx context.Context, cond func() bool) error {
	for {
		s.mu.Lock()
		if cond() {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *scheduler) waitUntilReliable(ctx context.Context) error {
	return s.waitUntil(ctx, s.reliableLocked)
}

func (s *scheduler) waitIdle(ctx context.Context) error {
	return s.waitUntil(ctx, func() bool { return s.queue.Len()+s.active+s.delayed == 0 })
}

// block and unblock bracket calls into user code from a worker.
func (s *scheduler) block() {
	if s.pool != nil {
		s.pool.Block()
	}
}

func (s *scheduler) unblock() {
	if s.pool != nil {
		s.pool.Unblock()
	}
}

// close stops admission, waits for running transactions and delayed
// retries, and returns the ones still queued.
func (s *scheduler) close() []*Txn {
	s.mu.Lock()
	s.closed = true
	left := s.queue.drain()
	s.notify()
	for s.delayed > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
	}
	return left
}

// queued returns the number of transactions waiting for admission.
func (s *scheduler) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}
