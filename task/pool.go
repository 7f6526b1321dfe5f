// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package task

import (
	"sync"
)

// Pool calls a step function from a set of goroutines, aiming to keep
// target of them runnable. A worker checks whether it is surplus before
// every step, so shrinking takes effect between steps.
type Pool struct {
	mu       sync.Mutex
	exited   *sync.Cond
	step     func()
	target   int
	runnable int
	live     int
	stats    PoolStats
}

// PoolStats receives the number of live workers whenever it changes.
type PoolStats interface {
	PoolSize(int)
}

// NewPool starts n workers executing step repeatedly. stats may be nil.
func NewPool(n int, step func(), stats PoolStats) *Pool {
	p := &Pool{step: step, target: n, stats: stats}
	p.exited = sync.NewCond(&p.mu)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.spawn()
	}
	return p
}

// Block marks the calling worker as stalled for an indeterminate time and
// starts a replacement if that leaves the pool below target.
func (p *Pool) Block() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runnable--
	if p.runnable < p.target {
		p.spawn()
	}
}

// Unblock marks the calling worker runnable again. If that makes the pool
// too large, some worker retires after its current step.
func (p *Pool) Unblock() {
	p.mu.Lock()
	p.runnable++
	p.mu.Unlock()
}

// Close drops the target to zero and waits for every worker to return
// from its current step and exit.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = 0
	for p.live > 0 {
		p.exited.Wait()
	}
}

func (p *Pool) liveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// spawn starts a worker. Callers hold p.mu.
func (p *Pool) spawn() {
	p.live++
	p.runnable++
	p.report()
	go p.work()
}

func (p *Pool) report() {
	if p.stats != nil {
		p.stats.PoolSize(p.live)
	}
}

// retire removes the calling worker from the counts if the pool has more
// runnable workers than it wants.
func (p *Pool) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runnable <= p.target {
		return false
	}
	p.runnable--
	p.live--
	p.report()
	if p.live == 0 {
		p.exited.Broadcast()
	}
	return true
}

func (p *Pool) work() {
	for !p.retire() {
		p.step()
	}
}
