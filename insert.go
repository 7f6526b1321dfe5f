// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"context"
	"math"

	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// PositionNotAllowedError rejects a coordinate that coincides with an
// existing point. Proposal is a nearby position that would be accepted.
type PositionNotAllowedError struct {
	Position r3.Vec
	Proposal r3.Vec
	err      error
}

func (e *PositionNotAllowedError) Error() string { return e.err.Error() }

func (e *PositionNotAllowedError) Unwrap() error { return e.err }

func positionNotAllowed(pos, proposal r3.Vec, other Handle) error {
	return &PositionNotAllowedError{
		Position: pos,
		Proposal: proposal,
		err:      errors.Newf(errors.ErrPositionNotAllowed, "position %v is occupied by %s", pos, other),
	}
}

// startFor picks where to begin walking: near's star if near is usable,
// otherwise anywhere.
func (t *Txn) startFor(near Handle) (Handle, error) {
	if near.IsNone() {
		return None, nil
	}
	p, err := t.space.partition(near).snapshotPoint(near)
	switch {
	case errors.Is(err, errors.ErrPending):
		t.parkOn = near
		return None, err
	case err != nil || len(p.Tetrahedra) == 0:
		return None, nil
	}
	return p.Tetrahedra[0], nil
}

// insert adds the transaction's pending point at t.pos.
func (t *Txn) insert(ctx context.Context) error {
	if t.space.TetrahedronCount() == 0 {
		return t.bootstrapInsert()
	}
	start, err := t.startFor(t.near)
	if err != nil {
		return err
	}
	guess, err := t.space.locate(ctx, t.pos, start, t.rnd)
	if err != nil {
		return err
	}
	tet, err := t.walkLocked(t.pos, guess)
	if err != nil {
		return err
	}
	if err := t.checkVacant(tet, t.pos, None); err != nil {
		return err
	}
	p, err := t.newPoint()
	if err != nil {
		return err
	}
	if err := t.insertAt(p, tet); err != nil {
		return err
	}
	t.announceAdd(p.Handle)
	return nil
}

// newPoint creates the point record behind the transaction's reserved
// handle.
func (t *Txn) newPoint() (*Point, error) {
	h := t.target
	if res, holder := t.space.partition(h).locks.Acquire(h.Addr, t.id, true); res == Conflict {
		return nil, lockedError(h, holder)
	} else if res == Acquired {
		t.track(kindPoint, h)
	}
	p := &Point{Handle: h, Position: t.pos, Payload: t.payload, valid: true}
	t.points[h] = p
	return p, nil
}

// checkVacant fails with a PositionNotAllowedError if pos coincides with a
// vertex of tet other than self.
func (t *Txn) checkVacant(tet *Tetrahedron, pos r3.Vec, self Handle) error {
	for _, n := range tet.Nodes {
		if n.IsNone() || n == self {
			continue
		}
		q, err := t.position(n)
		if err != nil {
			return err
		}
		if q == pos {
			return positionNotAllowed(pos, t.propose(n, q), n)
		}
	}
	return nil
}

// propose suggests a free position near the occupied point n at q: half
// the distance to its nearest neighbor, away from its farthest one, or
// straight out of the hull for a hull point.
func (t *Txn) propose(n Handle, q r3.Vec) r3.Vec {
	p, err := t.space.partition(n).snapshotPoint(n)
	if err != nil || len(p.Edges) == 0 {
		return r3.Add(q, r3.Vec{X: 1})
	}
	minD2 := math.Inf(1)
	var far r3.Vec
	farD2 := -1.0
	for _, l := range p.Edges {
		o, err := t.peekPosition(l.Other)
		if err != nil {
			continue
		}
		d := r3.Sub(o, q)
		d2 := r3.Norm2(d)
		if d2 < minD2 {
			minD2 = d2
		}
		if d2 > farD2 {
			far, farD2 = d, d2
		}
	}
	if math.IsInf(minD2, 1) {
		return r3.Add(q, r3.Vec{X: 1})
	}
	dir := far
	for _, th := range p.Tetrahedra {
		nodes, err := t.peekNodes(th)
		if err != nil || !nodes[0].IsNone() {
			continue
		}
		a, errA := t.peekPosition(nodes[1])
		b, errB := t.peekPosition(nodes[2])
		c, errC := t.peekPosition(nodes[3])
		if errA != nil || errB != nil || errC != nil {
			continue
		}
		dir = r3.Cross(r3.Sub(c, a), r3.Sub(b, a))
		break
	}
	if r3.Norm2(dir) == 0 {
		dir = r3.Vec{X: 1}
	}
	return r3.Add(q, r3.Scale(0.5*math.Sqrt(minD2), r3.Unit(dir)))
}

// conflicts reports whether a point with the given position and rank
// invalidates tet: it lies inside the circumsphere of a finite
// tetrahedron, or beyond the hull facet of a ghost. A point exactly on a
// hull facet's plane defers to the finite tetrahedron behind the facet.
func (t *Txn) conflicts(tet *Tetrahedron, pos r3.Vec, rank uint64) (bool, error) {
	pts, err := t.positions(tet.Nodes)
	if err != nil {
		return false, err
	}
	if tet.IsGhost() {
		switch geom.Orient(pos, pts[1], pts[2], pts[3]) {
		case 1:
			return true, nil
		case -1:
			return false, nil
		}
		nh, err := t.neighbor(tet, 0)
		if err != nil {
			return false, err
		}
		inner, err := t.tet(nh)
		if err != nil {
			return false, err
		}
		return t.conflicts(inner, pos, rank)
	}
	var ranks [5]uint64
	for i, n := range tet.Nodes {
		ranks[i] = n.Addr
	}
	ranks[4] = rank
	return geom.InSpherePerturbed([5]r3.Vec{pts[0], pts[1], pts[2], pts[3], pos}, ranks) > 0, nil
}

// boundaryFace is face i of a cavity tetrahedron whose neighbor stays.
type boundaryFace struct {
	nodes [4]Handle
	face  int
}

// conflictRegion grows the set of tetrahedra in conflict with pos from
// start, which must contain pos.
func (t *Txn) conflictRegion(start *Tetrahedron, pos r3.Vec, rank uint64) ([]Handle, []boundaryFace, error) {
	in := map[Handle]bool{start.Handle: true}
	out := map[Handle]bool{}
	cavity := []Handle{start.Handle}
	var boundary []boundaryFace
	for q := 0; q < len(cavity); q++ {
		tet, err := t.tet(cavity[q])
		if err != nil {
			return nil, nil, err
		}
		for i := 0; i < 4; i++ {
			nh, err := t.neighbor(tet, i)
			if err != nil {
				return nil, nil, err
			}
			if in[nh] {
				continue
			}
			c := false
			if !out[nh] {
				n, err := t.tet(nh)
				if err != nil {
					return nil, nil, err
				}
				if c, err = t.conflicts(n, pos, rank); err != nil {
					return nil, nil, err
				}
			}
			if c {
				in[nh] = true
				cavity = append(cavity, nh)
				continue
			}
			out[nh] = true
			boundary = append(boundary, boundaryFace{nodes: tet.Nodes, face: i})
		}
	}
	return cavity, boundary, nil
}

// insertAt links p into the mesh by replacing the tetrahedra in conflict
// with it, found from start, with the star of p over the cavity boundary.
func (t *Txn) insertAt(p *Point, start *Tetrahedron) error {
	cavity, boundary, err := t.conflictRegion(start, p.Position, p.Handle.Addr)
	if err != nil {
		return err
	}
	f := newHoleFiller()
	for _, h := range cavity {
		if err := t.deleteTetrahedron(f, h); err != nil {
			return err
		}
	}
	for _, b := range boundary {
		nodes := b.nodes
		nodes[b.face] = p.Handle
		if _, err := t.createTetrahedron(f, nodes); err != nil {
			return err
		}
	}
	return f.Close(t)
}
