// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"context"
	"math/rand"
	"time"

	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/monitor"
	"github.com/featurebasedb/tetra/tracing"
	"gonum.org/v1/gonum/spatial/r3"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// entityKind orders entity kinds the way commits and unlocks walk them.
type entityKind int

const (
	kindTetrahedron entityKind = iota
	kindTriangle
	kindEdge
	kindPoint
	numKinds
)

type opKind int

const (
	opInsert opKind = iota
	opMove
	opRemove
	opListen
)

func (k opKind) String() string {
	return [...]string{"insert", "move", "remove", "listen"}[k]
}

func (k opKind) priority() int {
	switch k {
	case opRemove:
		return priorityRemove
	case opInsert:
		return priorityInsert
	default:
		return priorityMove
	}
}

// moveMode is the strategy a move uses, from cheapest to most general.
type moveMode int

const (
	moveFlip moveMode = iota
	moveCleanup
	moveReinsert
)

// Bounds of the delay before a conflicting transaction is retried.
const (
	minBackoff = 50 * time.Microsecond
	maxBackoff = 2 * time.Millisecond
)

func (m moveMode) String() string {
	return [...]string{"flip", "cleanup", "reinsert"}[m]
}

// targetGone marks an unknown handle that is the operation's own target,
// which no retry can fix.
type targetGone struct{ error }

func (e targetGone) Unwrap() error { return e.error }

// Txn is one logical operation on the mesh. Each attempt copies the
// entities it touches into private caches, locking them, runs the
// geometric algorithm on the copies and either commits them all or
// releases everything and requeues. A transaction never waits for a lock.
type Txn struct {
	id    uint64
	space *Space
	home  *Partition

	kind     opKind
	target   Handle
	near     Handle
	pos      r3.Vec
	delta    r3.Vec
	payload  interface{}
	listener Listener

	priority int
	seq      uint64
	attempts int
	started  time.Time
	carrier  map[string]string

	// moveFloor is the cheapest move strategy still worth trying.
	moveFloor moveMode
	moveUsed  moveMode

	rnd *rand.Rand

	// Per-attempt state.
	points    map[Handle]*Point
	edges     map[Handle]*Edge
	triangles map[Handle]*Triangle
	tets      map[Handle]*Tetrahedron
	locked    [numKinds][]Handle
	parkOn    Handle
	events    []event
	resolved  []*pendingPoint
	bootstrap bool
	flips     flipCounts
}

type flipCounts struct {
	f23, f32, f44 int
}

func newTxn(s *Space, kind opKind, target Handle) *Txn {
	return &Txn{
		space:    s,
		kind:     kind,
		target:   target,
		priority: kind.priority(),
		started:  time.Now(),
		rnd:      rand.New(rand.NewSource(int64(target.Addr))),
	}
}

// ID returns the transaction's id, unique across the space.
func (t *Txn) ID() uint64 { return t.id }

func (t *Txn) reset() {
	t.points = make(map[Handle]*Point)
	t.edges = make(map[Handle]*Edge)
	t.triangles = make(map[Handle]*Triangle)
	t.tets = make(map[Handle]*Tetrahedron)
	for k := range t.locked {
		t.locked[k] = t.locked[k][:0]
	}
	t.parkOn = None
	t.events = nil
	t.resolved = nil
	t.bootstrap = false
	t.flips = flipCounts{}
}

func (t *Txn) track(kind entityKind, h Handle) {
	t.locked[kind] = append(t.locked[kind], h)
}

func (t *Txn) untrack(kind entityKind, h Handle) {
	if i := slices.Index(t.locked[kind], h); i >= 0 {
		t.locked[kind] = slices.Delete(t.locked[kind], i, i+1)
	}
}

// release unlocks everything the attempt acquired: tetrahedra, triangles,
// edges, then points.
func (t *Txn) release() {
	for k := range t.locked {
		for _, h := range t.locked[k] {
			t.space.partition(h).unlock(h, t)
		}
		t.locked[k] = t.locked[k][:0]
	}
}

// rollback releases every lock and drops the caches.
func (t *Txn) rollback() {
	t.release()
	t.reset()
}

func (t *Txn) point(h Handle) (*Point, error) {
	if p, ok := t.points[h]; ok {
		return p, nil
	}
	p, err := t.space.partition(h).copyPoint(h, t)
	if err != nil {
		if errors.Is(err, errors.ErrPending) {
			t.parkOn = h
		}
		return nil, err
	}
	t.points[h] = p
	return p, nil
}

func (t *Txn) edge(h Handle) (*Edge, error) {
	if e, ok := t.edges[h]; ok {
		return e, nil
	}
	e, err := t.space.partition(h).copyEdge(h, t)
	if err != nil {
		return nil, err
	}
	t.edges[h] = e
	return e, nil
}

func (t *Txn) triangle(h Handle) (*Triangle, error) {
	if tri, ok := t.triangles[h]; ok {
		return tri, nil
	}
	tri, err := t.space.partition(h).copyTriangle(h, t)
	if err != nil {
		return nil, err
	}
	t.triangles[h] = tri
	return tri, nil
}

func (t *Txn) tet(h Handle) (*Tetrahedron, error) {
	if tet, ok := t.tets[h]; ok {
		return tet, nil
	}
	tet, err := t.space.partition(h).copyTetrahedron(h, t)
	if err != nil {
		return nil, err
	}
	t.tets[h] = tet
	return tet, nil
}

// position returns the position of a point, locking it.
func (t *Txn) position(h Handle) (r3.Vec, error) {
	p, err := t.point(h)
	if err != nil {
		return r3.Vec{}, err
	}
	return p.Position, nil
}

// neighbor returns the tetrahedron across face i of tet.
func (t *Txn) neighbor(tet *Tetrahedron, i int) (Handle, error) {
	tri, err := t.triangle(tet.Triangles[i])
	if err != nil {
		return None, err
	}
	return tri.Other(tet.Handle), nil
}

// newHandle allocates and locks a handle for an entity created by t.
func (t *Txn) newHandle(part *Partition, kind entityKind) (Handle, error) {
	h, err := part.uniqueAddress()
	if err != nil {
		return None, err
	}
	if res, holder := part.locks.Acquire(h.Addr, t.id, true); res != Acquired {
		return None, errors.Newf(errors.ErrProtocol, "fresh address %s held by txn %d", h, holder)
	}
	t.track(kind, h)
	return h, nil
}

// ownerOf returns the partition owning the majority of the finite nodes,
// the lowest partition winning ties.
func (t *Txn) ownerOf(nodes []Handle) *Partition {
	var counts [64]int
	over := map[int]int{}
	best, bestN := -1, 0
	for _, n := range nodes {
		if n.IsNone() {
			continue
		}
		var c int
		if n.Part < len(counts) {
			counts[n.Part]++
			c = counts[n.Part]
		} else {
			over[n.Part]++
			c = over[n.Part]
		}
		if c > bestN || (c == bestN && n.Part < best) {
			best, bestN = n.Part, c
		}
	}
	if best < 0 {
		return t.home
	}
	return t.space.partitions[best]
}

func (t *Txn) body(ctx context.Context) error {
	switch t.kind {
	case opInsert:
		return t.insert(ctx)
	case opMove:
		return t.move(ctx)
	case opRemove:
		return t.remove()
	case opListen:
		return t.listen()
	}
	return errors.Newf(errors.ErrProtocol, "unknown operation %d", t.kind)
}

// attempt runs the body and commits. A move whose strategy fails falls
// back to the next one within the same attempt.
func (t *Txn) attempt(ctx context.Context) error {
	t.moveUsed = t.moveFloor
	for {
		t.reset()
		err := t.body(ctx)
		if err == nil {
			break
		}
		if t.kind == opMove && t.moveUsed < moveReinsert &&
			(errors.Is(err, errors.ErrFlipStall) || errors.Is(err, errors.ErrDegenerate)) {
			t.space.logger.Debugf("txn %d: %s move of %s failed: %v", t.id, t.moveUsed, t.target, err)
			t.release()
			t.moveUsed++
			t.moveFloor = t.moveUsed
			continue
		}
		return err
	}
	if err := t.finalize(); err != nil {
		return err
	}
	t.notify(true)
	if err := t.commit(); err != nil {
		return err
	}
	t.release()
	t.space.resolveAll(t.resolved)
	t.notify(false)
	return nil
}

// commit pushes every cached entity to its owner under the home
// partition's critical section: tetrahedra, triangles, edges, points.
// Every slot is verified first, so a violation writes nothing.
func (t *Txn) commit() error {
	t.home.commitMu.Lock()
	defer t.home.commitMu.Unlock()
	tets := sortedHandles(t.tets)
	tris := sortedHandles(t.triangles)
	edges := sortedHandles(t.edges)
	points := sortedHandles(t.points)
	for _, h := range tets {
		if tet := t.tets[h]; tet.valid && tet.Flat {
			return errors.Newf(errors.ErrInvariant, "txn %d committing flat tetrahedron %s", t.id, h)
		}
		if err := t.space.partition(h).verifySlot(t, h, kindTetrahedron); err != nil {
			return err
		}
	}
	for _, h := range tris {
		if err := t.space.partition(h).verifySlot(t, h, kindTriangle); err != nil {
			return err
		}
	}
	for _, h := range edges {
		if err := t.space.partition(h).verifySlot(t, h, kindEdge); err != nil {
			return err
		}
	}
	for _, h := range points {
		if err := t.space.partition(h).verifySlot(t, h, kindPoint); err != nil {
			return err
		}
	}

	for _, h := range tets {
		t.space.partition(h).commitTetrahedron(t.tets[h])
	}
	for _, h := range tris {
		t.space.partition(h).commitTriangle(t.triangles[h])
	}
	for _, h := range edges {
		t.space.partition(h).commitEdge(t.edges[h])
	}
	for _, h := range points {
		t.space.partition(h).commitPoint(t, t.points[h])
	}
	return nil
}

// backoff is how long a rolled back transaction waits before it is
// queued again: nothing after its first conflict, then a randomized delay
// doubling up to maxBackoff.
func (t *Txn) backoff() time.Duration {
	if t.attempts < 2 {
		return 0
	}
	shift := t.attempts - 2
	if shift > 6 {
		shift = 6
	}
	d := minBackoff << shift
	if d > maxBackoff {
		d = maxBackoff
	}
	return d/2 + time.Duration(t.rnd.Int63n(int64(d/2)+1))
}

func sortedHandles[V any](m map[Handle]V) []Handle {
	keys := maps.Keys(m)
	slices.SortFunc(keys, func(a, b Handle) bool { return a.Less(b) })
	return keys
}

// retryable reports whether err is a conflict that a later attempt can
// get past.
func retryable(err error) bool {
	var tg targetGone
	if errors.As(err, &tg) {
		return false
	}
	return errors.Is(err, errors.ErrLocked) ||
		errors.Is(err, errors.ErrPending) ||
		errors.Is(err, errors.ErrUnknownHandle)
}

// execute runs one attempt of t on a worker of p.
func (p *Partition) execute(t *Txn) {
	s := p.space
	if t.id == 0 {
		h, err := p.uniqueAddress()
		if err != nil {
			s.finish(t, err)
			return
		}
		t.id = h.Addr
	}
	t.attempts++

	var span tracing.Span
	ctx := context.Background()
	if t.carrier == nil {
		span, ctx = tracing.StartSpanFromContext(ctx, "Txn."+t.kind.String())
		t.carrier = map[string]string{}
		tracing.GlobalTracer.Inject(ctx, t.carrier)
	} else {
		span, ctx = tracing.GlobalTracer.Extract(ctx, t.carrier, "Txn."+t.kind.String()+".retry")
	}
	span.LogKV("txn", t.id, "target", t.target.String(), "attempt", t.attempts)
	defer span.Finish()

	err := t.attempt(ctx)
	if err == nil {
		s.stats.committed(t)
		s.finish(t, nil)
		return
	}
	parkOn := t.parkOn
	t.rollback()

	switch {
	case errors.Fatal(err):
		p.logger.Errorf("txn %d %s %s: %+v", t.id, t.kind, t.target, err)
		monitor.CaptureError(err, map[string]string{
			"partition": p.uid.String(),
			"op":        t.kind.String(),
		})
		s.stats.failed()
		s.finish(t, err)
	case retryable(err):
		s.stats.rolledBack()
		if s.maxRetries > 0 && t.attempts >= s.maxRetries {
			s.stats.failed()
			s.finish(t, errors.Wrapf(err, "giving up after %d attempts", t.attempts))
			return
		}
		p.logger.Debugf("txn %d %s %s rolled back: %v", t.id, t.kind, t.target, err)
		if errors.Is(err, errors.ErrPending) && !parkOn.IsNone() && s.partition(parkOn).park(parkOn, t) {
			return
		}
		if d := t.backoff(); d > 0 && s.multithreaded {
			p.sched.retryLater(t, d)
			return
		}
		if err := p.sched.enqueue(t); err != nil {
			s.finish(t, err)
		}
	default:
		s.stats.failed()
		s.finish(t, err)
	}
}
