// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"container/heap"
)

// Priorities of queued transactions; lower runs first. Removals go first
// so that stale points stop attracting work, insertions last.
const (
	priorityRemove = 0
	priorityMove   = 1
	priorityInsert = 2
)

// txnQueue is a priority queue of transactions, FIFO within a priority.
type txnQueue struct {
	items []*Txn
	seq   uint64
}

func (q *txnQueue) Len() int { return len(q.items) }

func (q *txnQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q *txnQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *txnQueue) Push(x interface{}) { q.items = append(q.items, x.(*Txn)) }

func (q *txnQueue) Pop() interface{} {
	n := len(q.items)
	t := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return t
}

// push adds t behind every queued transaction of the same priority.
func (q *txnQueue) push(t *Txn) {
	q.seq++
	t.seq = q.seq
	heap.Push(q, t)
}

// pop removes the next transaction, or returns nil if the queue is empty.
func (q *txnQueue) pop() *Txn {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*Txn)
}

// drain empties the queue and returns its contents in order.
func (q *txnQueue) drain() []*Txn {
	var out []*Txn
	for t := q.pop(); t != nil; t = q.pop() {
		out = append(out, t)
	}
	return out
}
