// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/logger"
	"github.com/google/uuid"
)

// Partition owns a contiguous range of addresses and the authoritative
// copies of the entities allocated from it. Other partitions and
// transactions reach its entities only through handles, by taking
// unlocked snapshots or locked copies and committing replacements.
type Partition struct {
	id     int
	uid    uuid.UUID
	space  *Space
	logger logger.Logger

	min, max uint64
	next     uint64 // atomic

	mu         sync.RWMutex
	points     map[uint64]*Point
	edges      map[uint64]*Edge
	triangles  map[uint64]*Triangle
	tetrahedra map[uint64]*Tetrahedron
	pending    map[uint64]*pendingPoint

	locks *LockTable

	// commitMu serializes commits of transactions homed here.
	commitMu sync.Mutex

	pointCount int64 // atomic
	tetCount   int64 // atomic

	sched scheduler
}

// pendingPoint is a reserved point handle whose insertion has not
// committed yet. Transactions that need the point park on it.
type pendingPoint struct {
	done    chan struct{}
	err     error
	waiters []*Txn
}

func newPartition(s *Space, id int, min, max uint64) *Partition {
	p := &Partition{
		id:         id,
		uid:        uuid.New(),
		space:      s,
		logger:     s.logger.WithPrefix(fmt.Sprintf("[partition %d] ", id)),
		min:        min,
		max:        max,
		next:       min,
		points:     make(map[uint64]*Point),
		edges:      make(map[uint64]*Edge),
		triangles:  make(map[uint64]*Triangle),
		tetrahedra: make(map[uint64]*Tetrahedron),
		pending:    make(map[uint64]*pendingPoint),
		locks:      NewLockTable(),
	}
	p.sched.init(p, s.maxParallel, s.maxDivergence, s.multithreaded)
	return p
}

// ID returns the partition's index within its space.
func (p *Partition) ID() int { return p.id }

// UID returns the partition's random identity, used in logs and metrics.
func (p *Partition) UID() uuid.UUID { return p.uid }

// uniqueAddress allocates a fresh address from the partition's range.
func (p *Partition) uniqueAddress() (Handle, error) {
	addr := atomic.AddUint64(&p.next, 1)
	if addr >= p.max {
		return None, errors.Newf(errors.ErrAddressExhausted, "partition %d exhausted its %d addresses", p.id, p.max-p.min)
	}
	return Handle{Addr: addr, Part: p.id}, nil
}

// PointCount returns the number of committed points owned here.
func (p *Partition) PointCount() int { return int(atomic.LoadInt64(&p.pointCount)) }

// TetrahedronCount returns the number of committed tetrahedra owned here,
// ghosts included.
func (p *Partition) TetrahedronCount() int { return int(atomic.LoadInt64(&p.tetCount)) }

// Locks exposes the partition's lock table.
func (p *Partition) Locks() *LockTable { return p.locks }

func lockedError(h Handle, holder uint64) error {
	return errors.Newf(errors.ErrLocked, "%s locked by txn %d", h, holder)
}

func unknownError(kind string, h Handle) error {
	return errors.Newf(errors.ErrUnknownHandle, "unknown %s %s", kind, h)
}

// acquire locks h for t, recording new locks with the transaction.
func (p *Partition) acquire(h Handle, t *Txn, kind entityKind) (AcquireResult, error) {
	res, holder := p.locks.Acquire(h.Addr, t.id, true)
	switch res {
	case Conflict:
		return res, lockedError(h, holder)
	case AlreadyCopied:
		return res, errors.Newf(errors.ErrAlreadyHeld, "txn %d already copied %s", t.id, h)
	case Acquired:
		t.track(kind, h)
	}
	return res, nil
}

// giveUp releases a lock taken for an entity that turned out not to exist.
func (p *Partition) giveUp(h Handle, t *Txn, kind entityKind, res AcquireResult) {
	if res == Acquired {
		p.locks.Release(h.Addr, t.id)
		t.untrack(kind, h)
	}
}

// copyPoint returns a copy of the point. With a nil transaction it is an
// unlocked snapshot; otherwise the point is locked for t first.
func (p *Partition) copyPoint(h Handle, t *Txn) (*Point, error) {
	if t == nil {
		return p.snapshotPoint(h)
	}
	res, err := p.acquire(h, t, kindPoint)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	pt, ok := p.points[h.Addr]
	_, pending := p.pending[h.Addr]
	p.mu.RUnlock()
	if !ok {
		p.giveUp(h, t, kindPoint, res)
		if pending {
			return nil, errors.Newf(errors.ErrPending, "point %s is pending", h)
		}
		return nil, unknownError("point", h)
	}
	return pt.clone(), nil
}

// lockNodes locks the finite nodes of a compound entity through t. Nodes
// are always locked before the entity itself.
func lockNodes(t *Txn, nodes []Handle) error {
	for _, n := range nodes {
		if n.IsNone() {
			continue
		}
		if _, err := t.point(n); err != nil {
			return err
		}
	}
	return nil
}

// acquireCompound locks a compound entity once its nodes are held. Any
// other holder at this point violates the locking order.
func (p *Partition) acquireCompound(h Handle, t *Txn, kind entityKind) (AcquireResult, error) {
	res, err := p.acquire(h, t, kind)
	if res == Conflict {
		return res, errors.Wrapf(errors.New(errors.ErrProtocol, err.Error()),
			"%s held while txn %d holds its nodes", h, t.id)
	}
	return res, err
}

func (p *Partition) copyEdge(h Handle, t *Txn) (*Edge, error) {
	snap, err := p.snapshotEdge(h)
	if err != nil || t == nil {
		return snap, err
	}
	if err := lockNodes(t, []Handle{snap.A, snap.B}); err != nil {
		return nil, err
	}
	res, err := p.acquireCompound(h, t, kindEdge)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	e, ok := p.edges[h.Addr]
	p.mu.RUnlock()
	if !ok {
		p.giveUp(h, t, kindEdge, res)
		return nil, unknownError("edge", h)
	}
	return e.clone(), nil
}

func (p *Partition) copyTriangle(h Handle, t *Txn) (*Triangle, error) {
	snap, err := p.snapshotTriangle(h)
	if err != nil || t == nil {
		return snap, err
	}
	if err := lockNodes(t, snap.Nodes[:]); err != nil {
		return nil, err
	}
	res, err := p.acquireCompound(h, t, kindTriangle)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	tri, ok := p.triangles[h.Addr]
	p.mu.RUnlock()
	if !ok {
		p.giveUp(h, t, kindTriangle, res)
		return nil, unknownError("triangle", h)
	}
	return tri.clone(), nil
}

func (p *Partition) copyTetrahedron(h Handle, t *Txn) (*Tetrahedron, error) {
	snap, err := p.snapshotTetrahedron(h)
	if err != nil || t == nil {
		return snap, err
	}
	if err := lockNodes(t, snap.Nodes[:]); err != nil {
		return nil, err
	}
	res, err := p.acquireCompound(h, t, kindTetrahedron)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	tet, ok := p.tetrahedra[h.Addr]
	p.mu.RUnlock()
	if !ok {
		p.giveUp(h, t, kindTetrahedron, res)
		return nil, unknownError("tetrahedron", h)
	}
	if tet.Nodes != snap.Nodes {
		return nil, errors.Newf(errors.ErrInvariant, "tetrahedron %s changed nodes", h)
	}
	return tet.clone(), nil
}

func (p *Partition) snapshotPoint(h Handle) (*Point, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pt, ok := p.points[h.Addr]; ok {
		return pt.clone(), nil
	}
	if _, ok := p.pending[h.Addr]; ok {
		return nil, errors.Newf(errors.ErrPending, "point %s is pending", h)
	}
	return nil, unknownError("point", h)
}

func (p *Partition) snapshotEdge(h Handle) (*Edge, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.edges[h.Addr]; ok {
		return e.clone(), nil
	}
	return nil, unknownError("edge", h)
}

func (p *Partition) snapshotTriangle(h Handle) (*Triangle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.triangles[h.Addr]; ok {
		return t.clone(), nil
	}
	return nil, unknownError("triangle", h)
}

func (p *Partition) snapshotTetrahedron(h Handle) (*Tetrahedron, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.tetrahedra[h.Addr]; ok {
		return t.clone(), nil
	}
	return nil, unknownError("tetrahedron", h)
}

// anyTetrahedron returns some committed tetrahedron, preferring finite
// ones.
func (p *Partition) anyTetrahedron() (Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ghost := None
	for _, t := range p.tetrahedra {
		if !t.IsGhost() {
			return t.Handle, true
		}
		ghost = t.Handle
	}
	return ghost, !ghost.IsNone()
}

// pointHandles lists the committed points.
func (p *Partition) pointHandles() []Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Handle, 0, len(p.points))
	for _, pt := range p.points {
		out = append(out, pt.Handle)
	}
	return out
}

// checkOverwrite enforces that an authoritative slot is replaced only by
// the transaction holding its lock, or created fresh.
func (p *Partition) checkOverwrite(t *Txn, h Handle, exists bool) error {
	holder, held := p.locks.Holder(h.Addr)
	switch {
	case held && holder != t.id:
		return errors.Newf(errors.ErrUnlockedOverwrite, "txn %d committing %s held by txn %d", t.id, h, holder)
	case !held && exists:
		return errors.Newf(errors.ErrUnlockedOverwrite, "txn %d committing %s without its lock", t.id, h)
	}
	return nil
}

// verifySlot checks that t may write the slot of h before any entity of
// t is written.
func (p *Partition) verifySlot(t *Txn, h Handle, kind entityKind) error {
	p.mu.RLock()
	var exists bool
	switch kind {
	case kindPoint:
		_, exists = p.points[h.Addr]
	case kindEdge:
		_, exists = p.edges[h.Addr]
	case kindTriangle:
		_, exists = p.triangles[h.Addr]
	case kindTetrahedron:
		_, exists = p.tetrahedra[h.Addr]
	}
	p.mu.RUnlock()
	return p.checkOverwrite(t, h, exists)
}

// The commit* methods write slots already cleared by verifySlot. The
// slots stay t's until it releases its locks.

func (p *Partition) commitPoint(t *Txn, pt *Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.points[pt.Handle.Addr]
	if pt.valid {
		p.points[pt.Handle.Addr] = pt.clone()
		if !exists {
			atomic.AddInt64(&p.pointCount, 1)
		}
		if pp, ok := p.pending[pt.Handle.Addr]; ok {
			delete(p.pending, pt.Handle.Addr)
			t.resolved = append(t.resolved, pp)
		}
	} else if exists {
		delete(p.points, pt.Handle.Addr)
		atomic.AddInt64(&p.pointCount, -1)
	}
}

func (p *Partition) commitEdge(e *Edge) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.valid {
		p.edges[e.Handle.Addr] = e.clone()
	} else {
		delete(p.edges, e.Handle.Addr)
	}
}

func (p *Partition) commitTriangle(tri *Triangle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tri.valid {
		c := tri.clone()
		c.Checked = false
		p.triangles[tri.Handle.Addr] = c
	} else {
		delete(p.triangles, tri.Handle.Addr)
	}
}

func (p *Partition) commitTetrahedron(tet *Tetrahedron) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.tetrahedra[tet.Handle.Addr]
	if tet.valid {
		p.tetrahedra[tet.Handle.Addr] = tet.clone()
		if !exists {
			atomic.AddInt64(&p.tetCount, 1)
		}
	} else if exists {
		delete(p.tetrahedra, tet.Handle.Addr)
		atomic.AddInt64(&p.tetCount, -1)
	}
}

// unlock releases t's lock on h. Handles that never reached the table are
// tolerated.
func (p *Partition) unlock(h Handle, t *Txn) {
	p.locks.Release(h.Addr, t.id)
}

// storeInitialPoint inserts the first point directly, bypassing the queue.
func (p *Partition) storeInitialPoint(pt *Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points[pt.Handle.Addr] = pt
	atomic.AddInt64(&p.pointCount, 1)
}

// createPendingPoint reserves a point handle for a queued insertion.
func (p *Partition) createPendingPoint() (Handle, error) {
	h, err := p.uniqueAddress()
	if err != nil {
		return None, err
	}
	p.mu.Lock()
	p.pending[h.Addr] = &pendingPoint{done: make(chan struct{})}
	p.mu.Unlock()
	return h, nil
}

// failPending resolves a placeholder whose insertion will never commit.
func (p *Partition) failPending(h Handle, err error) {
	p.mu.Lock()
	pp, ok := p.pending[h.Addr]
	delete(p.pending, h.Addr)
	p.mu.Unlock()
	if ok {
		pp.err = err
		p.space.resolvePending(pp)
	}
}

// park attaches t to a pending point so it is requeued when the point
// resolves. It returns false if the point is no longer pending.
func (p *Partition) park(h Handle, t *Txn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pending[h.Addr]
	if !ok {
		return false
	}
	pp.waiters = append(pp.waiters, t)
	return true
}

// waitPending blocks until h is no longer a placeholder.
func (p *Partition) waitPending(ctx context.Context, h Handle) error {
	p.mu.RLock()
	pp, ok := p.pending[h.Addr]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-pp.done:
		return pp.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
