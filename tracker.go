// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"sort"
	"sync"
	"time"
)

// ActiveTxnStatus describes a transaction that has been submitted but has
// not finished.
type ActiveTxnStatus struct {
	Op     string        `json:"op"`
	Target string        `json:"target"`
	Age    time.Duration `json:"age"`
}

// PastTxnStatus describes a finished transaction.
type PastTxnStatus struct {
	ID       uint64        `json:"id"`
	Op       string        `json:"op"`
	Target   string        `json:"target"`
	Home     int           `json:"home"`
	Attempts int           `json:"attempts"`
	Start    time.Time     `json:"start"`
	Runtime  time.Duration `json:"runtimeNanoseconds"`
	Err      string        `json:"error,omitempty"`
}

type txnStatusUpdate struct {
	t       *Txn
	end     bool
	err     error
	endTime time.Time
}

type txnTracker struct {
	updates chan<- txnStatusUpdate
	checks  chan<- chan<- []*Txn
	history *ringBuffer

	wg   sync.WaitGroup
	stop chan struct{}
}

type ringBuffer struct {
	txns  []PastTxnStatus
	start int
	count int
	mu    sync.Mutex
}

// newRingBuffer initializes an empty ringBuffer of specified capacity.
func newRingBuffer(n int) *ringBuffer {
	return &ringBuffer{txns: make([]PastTxnStatus, n)}
}

// add appends s, overwriting the oldest entry if the buffer is full.
func (b *ringBuffer) add(s PastTxnStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.txns) == 0 {
		return
	}
	b.txns[(b.start+b.count)%len(b.txns)] = s
	if b.count == len(b.txns) {
		b.start = (b.start + 1) % len(b.txns)
	} else {
		b.count++
	}
}

// slice returns the contents of the buffer, oldest first.
func (b *ringBuffer) slice() []PastTxnStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PastTxnStatus, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.txns[(b.start+i)%len(b.txns)])
	}
	return out
}

func newTxnTracker(historyLength int) *txnTracker {
	done := make(chan struct{})
	updates := make(chan txnStatusUpdate, 128)
	checks := make(chan chan<- []*Txn)
	tracker := &txnTracker{
		updates: updates,
		checks:  checks,
		history: newRingBuffer(historyLength),
		stop:    done,
	}
	tracker.wg.Add(1)
	go func() {
		defer tracker.wg.Done()

		active := make(map[*Txn]struct{})
		for {
			select {
			case update := <-updates:
				if !update.end {
					active[update.t] = struct{}{}
					continue
				}
				delete(active, update.t)
				tracker.history.add(pastStatus(update))
			case check := <-checks:
				out := make([]*Txn, 0, len(active))
				for t := range active {
					out = append(out, t)
				}
				check <- out
				close(check)
			case <-done:
				return
			}
		}
	}()
	return tracker
}

func pastStatus(u txnStatusUpdate) PastTxnStatus {
	s := PastTxnStatus{
		ID:       u.t.id,
		Op:       u.t.kind.String(),
		Target:   u.t.target.String(),
		Attempts: u.t.attempts,
		Start:    u.t.started,
		Runtime:  u.endTime.Sub(u.t.started),
	}
	if u.t.home != nil {
		s.Home = u.t.home.id
	}
	if u.err != nil {
		s.Err = u.err.Error()
	}
	return s
}

func (tr *txnTracker) Start(t *Txn) {
	tr.updates <- txnStatusUpdate{t: t}
}

func (tr *txnTracker) Finish(t *Txn, err error) {
	tr.updates <- txnStatusUpdate{t: t, end: true, err: err, endTime: time.Now()}
}

// ActiveTxns lists unfinished transactions, oldest first. The fields read
// are fixed at submission.
func (tr *txnTracker) ActiveTxns() []ActiveTxnStatus {
	ch := make(chan []*Txn, 1)
	tr.checks <- ch
	txns := <-ch
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].started.Equal(txns[j].started) {
			return txns[i].started.Before(txns[j].started)
		}
		return txns[i].target.Less(txns[j].target)
	})
	now := time.Now()
	out := make([]ActiveTxnStatus, len(txns))
	for i, t := range txns {
		out[i] = ActiveTxnStatus{Op: t.kind.String(), Target: t.target.String(), Age: now.Sub(t.started)}
	}
	return out
}

func (tr *txnTracker) PastTxns() []PastTxnStatus {
	return tr.history.slice()
}

func (tr *txnTracker) Stop() {
	close(tr.stop)
	tr.wg.Wait()
}
