// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package task

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type sizeRecorder struct {
	mu  sync.Mutex
	max int
	cur int
}

func (s *sizeRecorder) PoolSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = n
	if n > s.max {
		s.max = n
	}
}

// queue is a stand-in for a partition: jobs arrive on a channel and a step
// runs at most one of them.
type queue struct {
	jobs    chan func()
	running int32
	peak    int32
}

func (q *queue) step() {
	select {
	case job := <-q.jobs:
		n := atomic.AddInt32(&q.running, 1)
		for {
			p := atomic.LoadInt32(&q.peak)
			if n <= p || atomic.CompareAndSwapInt32(&q.peak, p, n) {
				break
			}
		}
		job()
		atomic.AddInt32(&q.running, -1)
	case <-time.After(time.Millisecond):
	}
}

func TestPoolRunsAllJobs(t *testing.T) {
	q := &queue{jobs: make(chan func())}
	stats := &sizeRecorder{}
	p := NewPool(4, q.step, stats)

	var done int32
	var eg errgroup.Group
	for i := 0; i < 100; i++ {
		eg.Go(func() error {
			q.jobs <- func() { atomic.AddInt32(&done, 1) }
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	p.Close()

	require.Equal(t, int32(100), atomic.LoadInt32(&done))
	require.LessOrEqual(t, atomic.LoadInt32(&q.peak), int32(4))
	require.Equal(t, 0, p.liveWorkers())
	require.Equal(t, 4, stats.max)
	require.Equal(t, 0, stats.cur)
}

func TestPoolBlockSpawnsReplacement(t *testing.T) {
	q := &queue{jobs: make(chan func())}
	p := NewPool(1, q.step, nil)
	defer p.Close()

	release := make(chan struct{})
	entered := make(chan struct{})
	q.jobs <- func() {
		p.Block()
		close(entered)
		<-release
		p.Unblock()
	}
	<-entered

	// With the only worker blocked, a replacement must pick this up.
	ran := make(chan struct{})
	q.jobs <- func() { close(ran) }
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked worker was not replaced")
	}
	require.Equal(t, 2, p.liveWorkers())
	close(release)

	// The extra worker retires once both are runnable again.
	require.Eventually(t, func() bool {
		return p.liveWorkers() == 1
	}, 5*time.Second, time.Millisecond)
}
