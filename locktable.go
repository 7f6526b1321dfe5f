// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash"
)

const lockStripes = 64

// AcquireResult is the outcome of LockTable.Acquire.
type AcquireResult int

const (
	// Acquired means the caller now holds the lock.
	Acquired AcquireResult = iota
	// AlreadyHeld means the caller held the lock but had not copied the
	// entity yet.
	AlreadyHeld
	// AlreadyCopied means the caller holds the lock and already has its
	// copy of the entity.
	AlreadyCopied
	// Conflict means another transaction holds the lock.
	Conflict
)

type lockEntry struct {
	txn    uint64
	copied bool
}

// LockTable maps entity addresses to the transaction holding them. It is
// kept apart from the entities so that exclusivity can be checked and
// tested on its own. The table is striped by a hash of the address.
type LockTable struct {
	stripes [lockStripes]struct {
		mu sync.Mutex
		m  map[uint64]lockEntry
	}
}

// NewLockTable returns an empty lock table.
func NewLockTable() *LockTable {
	lt := &LockTable{}
	for i := range lt.stripes {
		lt.stripes[i].m = make(map[uint64]lockEntry)
	}
	return lt
}

func (lt *LockTable) stripe(addr uint64) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], addr)
	return int(xxhash.Sum64(b[:]) % lockStripes)
}

// Acquire attempts to lock addr for txn. When copy is true the caller is
// about to take its copy of the entity, and a second copy attempt by the
// same transaction reports AlreadyCopied. On Conflict the holder's id is
// returned.
func (lt *LockTable) Acquire(addr, txn uint64, copy bool) (AcquireResult, uint64) {
	s := &lt.stripes[lt.stripe(addr)]
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[addr]
	switch {
	case !ok:
		s.m[addr] = lockEntry{txn: txn, copied: copy}
		return Acquired, txn
	case e.txn != txn:
		return Conflict, e.txn
	case e.copied && copy:
		return AlreadyCopied, txn
	default:
		if copy {
			e.copied = true
			s.m[addr] = e
		}
		return AlreadyHeld, txn
	}
}

// Release unlocks addr if txn holds it and reports whether it did.
func (lt *LockTable) Release(addr, txn uint64) bool {
	s := &lt.stripes[lt.stripe(addr)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[addr]; ok && e.txn == txn {
		delete(s.m, addr)
		return true
	}
	return false
}

// Holder returns the transaction holding addr, if any.
func (lt *LockTable) Holder(addr uint64) (uint64, bool) {
	s := &lt.stripes[lt.stripe(addr)]
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[addr]
	return e.txn, ok
}

// Len returns the number of held locks.
func (lt *LockTable) Len() int {
	n := 0
	for i := range lt.stripes {
		s := &lt.stripes[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}
