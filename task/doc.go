// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package task provides the worker pool that drives a partition's
// transaction queue.
//
// Each worker runs a step function in a loop. For a partition, one step
// waits until the queue holds a transaction that admission control allows
// to start, runs it to commit or rollback, and returns. Transactions never
// block on each other; a lock conflict aborts and requeues. The only place
// a worker can stall for an unbounded time is user code it calls into,
// such as a movement listener. Callers mark such regions with Block and
// Unblock so the pool can start a replacement worker and keep the number of
// runnable workers at its target.
//
// A buffered channel used as a semaphore would make a worker returning
// from a listener contend for a slot while it still holds entity locks,
// which is the opposite of what we want: the locks would be held for as
// long as it takes some other worker to finish.
package task
