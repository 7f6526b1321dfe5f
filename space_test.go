// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/logger"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func newTestSpace(t *testing.T, opts ...spaceOption) *Space {
	t.Helper()
	opts = append([]spaceOption{OptSpaceLogger(logger.NewLogfLogger(t))}, opts...)
	s, err := NewSpace(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// insertAll creates the first point directly and inserts the rest near
// their predecessor. Payloads are the indexes.
func insertAll(t *testing.T, s *Space, pts ...r3.Vec) []Handle {
	t.Helper()
	h, err := s.CreateInitialNode(pts[0], 0)
	require.NoError(t, err)
	hs := []Handle{h}
	for i, p := range pts[1:] {
		h, err := s.InsertNear(hs[len(hs)-1], p, i+1)
		require.NoError(t, err)
		hs = append(hs, h)
	}
	return hs
}

func waitValid(t *testing.T, s *Space) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))
	if err := s.Validate(); err != nil {
		t.Fatalf("%v\nmesh: %s", err, spew.Sdump(canonical(s)))
	}
}

// canonical lists the committed tetrahedra by corner positions, sorted,
// so meshes built with different handles can be compared.
func canonical(s *Space) []string {
	m := s.snapshot()
	out := make([]string, 0, len(m.tets))
	for _, tet := range m.tets {
		var corners []string
		for _, n := range tet.Nodes {
			if n.IsNone() {
				corners = append(corners, "inf")
				continue
			}
			corners = append(corners, fmt.Sprintf("%v", m.points[n].Position))
		}
		sort.Strings(corners)
		out = append(out, strings.Join(corners, " "))
	}
	sort.Strings(out)
	return out
}

func finiteTets(s *Space) int {
	n := 0
	for _, tet := range s.snapshot().tets {
		if !tet.IsGhost() {
			n++
		}
	}
	return n
}

var (
	unitCorners = []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1},
	}
	bigCorners = []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 10, Y: 0, Z: 0},
		{X: 0, Y: 10, Z: 0},
		{X: 0, Y: 0, Z: 10},
	}
)

func TestScenario_FirstTetrahedron(t *testing.T) {
	ctx := context.Background()
	s := newTestSpace(t)
	hs := insertAll(t, s, unitCorners...)
	waitValid(t, s)

	require.Equal(t, 4, s.PointCount())
	require.Equal(t, 5, s.TetrahedronCount())
	require.Equal(t, 1, finiteTets(s))
	for _, h := range hs {
		nb, err := s.NeighborHandles(ctx, h)
		require.NoError(t, err)
		require.Len(t, nb, 3, "neighbors of %s", h)
	}
}

func TestScenario_InsideCircumsphere(t *testing.T) {
	s := newTestSpace(t)
	insertAll(t, s, append(unitCorners, r3.Vec{X: 0.25, Y: 0.25, Z: 0.25})...)
	waitValid(t, s)

	require.GreaterOrEqual(t, finiteTets(s), 4)
	require.Equal(t, 5, s.PointCount())
}

func TestScenario_MoveByFlips(t *testing.T) {
	ctx := context.Background()
	s := newTestSpace(t)
	hs := insertAll(t, s, append(bigCorners,
		r3.Vec{X: 1, Y: 1.5, Z: 0.8},
		r3.Vec{X: 3, Y: 2.5, Z: 3.2},
		r3.Vec{X: 2.2, Y: 0.7, Z: 1.9},
	)...)
	waitValid(t, s)

	c := hs[5]
	delta := r3.Vec{X: 0.002, Y: -0.001, Z: 0.0015}
	require.NoError(t, s.Move(c, delta))
	waitValid(t, s)

	st := s.Stats()
	require.Equal(t, uint64(1), st.MovesByFlip, spew.Sdump(st))
	require.Zero(t, st.MovesByCleanup)
	require.Zero(t, st.MovesByReinsert)

	pos, err := s.Position(ctx, c)
	require.NoError(t, err)
	require.Equal(t, r3.Add(r3.Vec{X: 3, Y: 2.5, Z: 3.2}, delta), pos)
}

func TestScenario_MoveByReinsert(t *testing.T) {
	ctx := context.Background()
	s := newTestSpace(t)
	hs := insertAll(t, s, append(bigCorners,
		r3.Vec{X: 1, Y: 1.5, Z: 0.8},
		r3.Vec{X: 3, Y: 2.5, Z: 3.2},
	)...)
	waitValid(t, s)

	c := hs[5]
	require.NoError(t, s.Move(c, r3.Vec{X: 20, Y: 20, Z: 20}))
	waitValid(t, s)

	st := s.Stats()
	require.Equal(t, uint64(1), st.MovesByReinsert, spew.Sdump(st))
	require.Equal(t, 6, s.PointCount())

	pos, err := s.Position(ctx, c)
	require.NoError(t, err)
	require.Equal(t, r3.Add(r3.Vec{X: 3, Y: 2.5, Z: 3.2}, r3.Vec{X: 20, Y: 20, Z: 20}), pos)

	// The point keeps its handle and payload.
	payload, err := s.Payload(ctx, c)
	require.NoError(t, err)
	require.Equal(t, 5, payload)
	nb, err := s.NeighborHandles(ctx, c)
	require.NoError(t, err)
	require.NotEmpty(t, nb)
}

// gate blocks the first BeforeMove it sees until released.
type gate struct {
	NopListener
	entered chan struct{}
	release chan struct{}
	fired   int32
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) BeforeMove(Handle, r3.Vec) {
	if atomic.CompareAndSwapInt32(&g.fired, 0, 1) {
		close(g.entered)
		<-g.release
	}
}

// policyFunc adapts a function to Policy.
type policyFunc func(r3.Vec) int

func (f policyFunc) Assign(pos r3.Vec) int { return f(pos) }

func TestScenario_LockRace(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// The origin corner lives on partition 1, everything else on 0.
	policy := policyFunc(func(pos r3.Vec) int {
		if pos == (r3.Vec{}) {
			return 1
		}
		return 0
	})
	s := newTestSpace(t,
		OptSpacePartitions(2),
		OptSpacePolicy(policy),
		OptSpaceMultithreaded(true),
		OptSpaceMaxRetries(0),
	)
	hs := insertAll(t, s, append(bigCorners, r3.Vec{X: 2, Y: 2.5, Z: 1.5})...)
	waitValid(t, s)
	q, p := hs[0], hs[4]
	require.Equal(t, 1, q.Part)
	require.Equal(t, 0, p.Part)

	g := newGate()
	require.NoError(t, s.AddListener(p, g))
	require.NoError(t, s.Wait(ctx, p))

	// The winner locks the star of p, which includes q, then stalls
	// before committing.
	require.NoError(t, s.Move(p, r3.Vec{X: 0.01}))
	<-g.entered

	before := s.Stats().RolledBack
	require.NoError(t, s.Move(q, r3.Vec{X: -0.01}))
	require.Eventually(t, func() bool { return s.Stats().RolledBack > before },
		10*time.Second, time.Millisecond, "loser never hit the lock")

	// Nothing of the loser is committed while the winner holds its locks.
	snap, err := s.partition(q).snapshotPoint(q)
	require.NoError(t, err)
	require.Equal(t, r3.Vec{}, snap.Position)
	close(g.release)

	require.NoError(t, s.Wait(ctx, p))
	require.NoError(t, s.Wait(ctx, q))
	waitValid(t, s)

	// History is recorded asynchronously.
	var loser PastTxnStatus
	require.Eventually(t, func() bool {
		for _, pt := range s.PastTxns() {
			if pt.Op == "move" && pt.Target == q.String() {
				loser = pt
				return true
			}
		}
		return false
	}, 10*time.Second, time.Millisecond)
	require.Greater(t, loser.Attempts, 1, spew.Sdump(loser))
	require.Empty(t, loser.Err)

	pos, err := s.Position(ctx, q)
	require.NoError(t, err)
	require.Equal(t, r3.Vec{X: -0.01}, pos)
}

func TestRoundTripInsertRemove(t *testing.T) {
	s := newTestSpace(t)
	hs := insertAll(t, s, append(bigCorners,
		r3.Vec{X: 1, Y: 1.5, Z: 0.8},
		r3.Vec{X: 3, Y: 2.5, Z: 3.2},
		r3.Vec{X: 2.2, Y: 0.7, Z: 1.9},
		r3.Vec{X: 0.5, Y: 4, Z: 2},
	)...)
	waitValid(t, s)
	before := canonical(s)

	for _, pos := range []r3.Vec{
		{X: 2, Y: 2, Z: 2},          // interior
		{X: 30, Y: 1, Z: 1},         // outside the hull
		{X: 0.01, Y: 0.01, Z: 0.01}, // next to a corner
	} {
		h, err := s.InsertNear(hs[5], pos, "tmp")
		require.NoError(t, err)
		waitValid(t, s)
		require.NoError(t, s.Remove(h))
		waitValid(t, s)

		if diff := cmp.Diff(before, canonical(s)); diff != "" {
			t.Fatalf("mesh changed after inserting and removing %v (-want +got):\n%s", pos, diff)
		}
	}
}

func TestIdempotentRetry(t *testing.T) {
	ctx := context.Background()
	pts := append(bigCorners,
		r3.Vec{X: 1, Y: 1.5, Z: 0.8},
		r3.Vec{X: 3, Y: 2.5, Z: 3.2},
		r3.Vec{X: 2.2, Y: 0.7, Z: 1.9},
	)
	delta := r3.Vec{X: -1.5, Y: 0.4, Z: -1}

	control := newTestSpace(t)
	hs := insertAll(t, control, pts...)
	require.NoError(t, control.Move(hs[5], delta))
	waitValid(t, control)

	s := newTestSpace(t)
	hs = insertAll(t, s, pts...)
	waitValid(t, s)

	// Run the move once without committing, as if it lost a race after
	// doing all its work, then let it run for real.
	txn := newTxn(s, opMove, hs[5])
	txn.delta = delta
	txn.home = s.partition(hs[5])
	id, err := txn.home.uniqueAddress()
	require.NoError(t, err)
	txn.id = id.Addr
	for {
		txn.reset()
		err := txn.body(ctx)
		if err == nil {
			break
		}
		require.True(t, errors.Is(err, errors.ErrFlipStall) || errors.Is(err, errors.ErrDegenerate), "%v", err)
		txn.release()
		txn.moveUsed++
		txn.moveFloor = txn.moveUsed
	}
	require.NoError(t, txn.finalize())
	txn.rollback()
	require.NoError(t, s.Validate(), "rollback must leave the mesh untouched")

	require.NoError(t, s.submit(txn, txn.home))
	require.NoError(t, s.Wait(ctx, hs[5]))
	waitValid(t, s)

	if diff := cmp.Diff(canonical(control), canonical(s)); diff != "" {
		t.Fatalf("retried move differs (-want +got):\n%s", diff)
	}
}

func TestPositionNotAllowed(t *testing.T) {
	ctx := context.Background()
	s := newTestSpace(t)
	hs := insertAll(t, s, append(bigCorners, r3.Vec{X: 2, Y: 2, Z: 2})...)
	waitValid(t, s)

	h, err := s.InsertNear(hs[0], r3.Vec{X: 2, Y: 2, Z: 2}, "dup")
	require.NoError(t, err)
	err = s.Wait(ctx, h)
	var pna *PositionNotAllowedError
	require.True(t, errors.As(err, &pna), "got %v", err)
	require.True(t, errors.Is(err, errors.ErrPositionNotAllowed))
	require.Equal(t, r3.Vec{X: 2, Y: 2, Z: 2}, pna.Position)
	require.NotEqual(t, pna.Position, pna.Proposal)

	// The placeholder is gone and the proposal is accepted.
	_, err = s.Position(ctx, h)
	require.Error(t, err)
	h, err = s.InsertNear(hs[0], pna.Proposal, "proposed")
	require.NoError(t, err)
	require.NoError(t, s.Wait(ctx, h))
	waitValid(t, s)
	require.Equal(t, 6, s.PointCount())

	// Moving onto an occupied position is rejected the same way.
	require.NoError(t, s.Move(hs[4], r3.Sub(r3.Vec{X: 10}, r3.Vec{X: 2, Y: 2, Z: 2})))
	err = s.Wait(ctx, hs[4])
	require.True(t, errors.As(err, &pna), "got %v", err)
	waitValid(t, s)
}

func TestBootstrapAndDissolve(t *testing.T) {
	ctx := context.Background()
	s := newTestSpace(t)

	// Coplanar points cannot form a tetrahedron.
	hs := insertAll(t, s,
		r3.Vec{X: 0, Y: 0, Z: 0},
		r3.Vec{X: 1, Y: 0, Z: 0},
		r3.Vec{X: 0, Y: 1, Z: 0},
		r3.Vec{X: 1, Y: 1, Z: 0},
	)
	waitValid(t, s)
	require.Equal(t, 4, s.PointCount())
	require.Zero(t, s.TetrahedronCount())
	nb, err := s.NeighborHandles(ctx, hs[0])
	require.NoError(t, err)
	require.Len(t, nb, 3)

	// Lifting one point out of the plane materializes the mesh.
	require.NoError(t, s.Move(hs[3], r3.Vec{Z: 1}))
	waitValid(t, s)
	require.Equal(t, 5, s.TetrahedronCount())

	// An off-plane insertion grows it.
	h, err := s.InsertNear(hs[0], r3.Vec{X: 0.5, Y: 0.5, Z: -1}, "below")
	require.NoError(t, err)
	waitValid(t, s)
	require.Greater(t, finiteTets(s), 1)

	// Removing down to three points dissolves the mesh.
	require.NoError(t, s.Remove(h))
	waitValid(t, s)
	require.Equal(t, 1, finiteTets(s))
	require.NoError(t, s.Remove(hs[1]))
	waitValid(t, s)
	require.Zero(t, s.TetrahedronCount())
	require.Equal(t, 3, s.PointCount())

	// Removing everything is allowed.
	for _, h := range []Handle{hs[0], hs[2], hs[3]} {
		require.NoError(t, s.Remove(h))
	}
	waitValid(t, s)
	require.Zero(t, s.PointCount())
}

func TestVolumes(t *testing.T) {
	ctx := context.Background()
	s := newTestSpace(t)
	hs := insertAll(t, s, append(bigCorners,
		r3.Vec{X: 1, Y: 1.5, Z: 0.8},
		r3.Vec{X: 3, Y: 2.5, Z: 3.2},
	)...)
	waitValid(t, s)

	total := 0.0
	for _, h := range hs {
		v, err := s.Volume(ctx, h)
		require.NoError(t, err)
		require.Greater(t, v, 0.0)
		total += v
	}
	require.InDelta(t, 1000.0/6, total, 1e-9)
}

type recorder struct {
	events []string
}

func (r *recorder) BeforeMove(h Handle, d r3.Vec) { r.events = append(r.events, fmt.Sprintf("before move %v", d)) }
func (r *recorder) AfterMove(h Handle)            { r.events = append(r.events, "after move") }
func (r *recorder) BeforeRemove(h Handle)         { r.events = append(r.events, "before remove") }
func (r *recorder) AfterRemove(h Handle)          { r.events = append(r.events, "after remove") }
func (r *recorder) BeforeAdd(h, added Handle)     { r.events = append(r.events, "before add") }
func (r *recorder) AfterAdd(h, added Handle)      { r.events = append(r.events, "after add") }

func TestListeners(t *testing.T) {
	ctx := context.Background()
	s := newTestSpace(t)
	hs := insertAll(t, s, append(bigCorners, r3.Vec{X: 2, Y: 2, Z: 2})...)
	waitValid(t, s)

	r := &recorder{}
	require.NoError(t, s.AddListener(hs[4], r))
	require.NoError(t, s.Wait(ctx, hs[4]))

	_, err := s.InsertNear(hs[4], r3.Vec{X: 1, Y: 1, Z: 3}, "new")
	require.NoError(t, err)
	require.NoError(t, s.Move(hs[4], r3.Vec{X: 0.5}))
	require.NoError(t, s.Remove(hs[4]))
	waitValid(t, s)

	require.Equal(t, []string{
		"before add", "after add",
		"before move {0.5 0 0}", "after move",
		"before remove", "after remove",
	}, r.events)

	// Later operations on the removed point fail.
	require.NoError(t, s.Move(hs[4], r3.Vec{X: 1}))
	require.True(t, errors.Is(s.Wait(ctx, hs[4]), errors.ErrUnknownHandle))
}

// A listener may submit operations of its own.
type follower struct {
	NopListener
	s      *Space
	target Handle
}

func (f *follower) AfterMove(h Handle) {
	_ = f.s.Move(f.target, r3.Vec{Y: 0.1})
}

func TestListenerCallsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestSpace(t)
	hs := insertAll(t, s, append(bigCorners, r3.Vec{X: 2, Y: 2, Z: 2}, r3.Vec{X: 1, Y: 3, Z: 1})...)
	waitValid(t, s)

	require.NoError(t, s.AddListener(hs[4], &follower{s: s, target: hs[5]}))
	require.NoError(t, s.Move(hs[4], r3.Vec{X: 0.1}))
	waitValid(t, s)

	pos, err := s.Position(ctx, hs[5])
	require.NoError(t, err)
	require.InDelta(t, 3.1, pos.Y, 1e-12)
}

func TestFacadeErrors(t *testing.T) {
	s := newTestSpace(t)
	_, err := s.InsertNear(None, r3.Vec{}, nil)
	require.True(t, errors.Is(err, errors.ErrUnknownHandle))

	h, err := s.CreateInitialNode(r3.Vec{}, nil)
	require.NoError(t, err)
	_, err = s.CreateInitialNode(r3.Vec{X: 1}, nil)
	require.True(t, errors.Is(err, errors.ErrAlreadyInitialized))

	require.True(t, errors.Is(s.Move(None, r3.Vec{X: 1}), errors.ErrUnknownHandle))
	require.True(t, errors.Is(s.Remove(Handle{Addr: DefaultAddressSpace + 5}), errors.ErrUnknownHandle))

	require.NoError(t, s.Close())
	require.True(t, errors.Is(s.Move(h, r3.Vec{X: 1}), errors.ErrClosed))
	_, err = s.CreateInitialNode(r3.Vec{}, nil)
	require.True(t, errors.Is(err, errors.ErrClosed))
}

func TestReliableQueries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s := newTestSpace(t, OptSpaceMultithreaded(true))
	hs := insertAll(t, s, append(bigCorners, r3.Vec{X: 2, Y: 2, Z: 2})...)

	// Queries on pending points block until they commit.
	pos, err := s.Position(ctx, hs[4])
	require.NoError(t, err)
	require.Equal(t, r3.Vec{X: 2, Y: 2, Z: 2}, pos)
	payload, err := s.Payload(ctx, hs[4])
	require.NoError(t, err)
	require.Equal(t, 4, payload)

	require.NoError(t, s.WaitIdle(ctx))
	require.True(t, s.IsReliable())
	nb, err := s.Neighbors(ctx, hs[4])
	require.NoError(t, err)
	require.ElementsMatch(t, []interface{}{0, 1, 2, 3}, nb)
	require.NoError(t, s.Validate())
}

func TestOpTracker_DropsOldestErrors(t *testing.T) {
	ctx := context.Background()
	var o opTracker
	o.init()
	o.limit = 3

	var hs []Handle
	for i := 1; i <= 5; i++ {
		h := Handle{Addr: uint64(i)}
		hs = append(hs, h)
		o.begin(h)
		o.end(h, fmt.Errorf("op %d failed", i))
	}
	require.Len(t, o.errs, 3)

	require.NoError(t, o.wait(ctx, hs[0]), "oldest error dropped")
	require.NoError(t, o.wait(ctx, hs[1]))
	require.EqualError(t, o.wait(ctx, hs[4]), "op 5 failed")
	require.NoError(t, o.wait(ctx, hs[4]), "an error is reported once")

	// A second failure on a handle keeps the first.
	o.begin(hs[2])
	o.end(hs[2], fmt.Errorf("later"))
	require.EqualError(t, o.wait(ctx, hs[2]), "op 3 failed")
	require.Len(t, o.errs, 1)
}
