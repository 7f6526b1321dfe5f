// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"context"
	"math/rand"

	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// walkView is the access a visibility walk needs: a locked transaction or
// unlocked snapshots of a partition.
type walkView interface {
	position(h Handle) (r3.Vec, error)
	neighbor(tet *Tetrahedron, i int) (Handle, error)
}

// walkStep decides whether tet contains pos and, if not, which neighbor
// to step to. Faces are tried from a random start so the walk cannot
// cycle on degenerate input.
func walkStep(v walkView, tet *Tetrahedron, pos r3.Vec, rnd *rand.Rand) (Handle, bool, error) {
	var pts [4]r3.Vec
	for i, n := range tet.Nodes {
		if n.IsNone() {
			continue
		}
		p, err := v.position(n)
		if err != nil {
			return None, false, err
		}
		pts[i] = p
	}
	if tet.IsGhost() {
		if geom.Orient(pos, pts[1], pts[2], pts[3]) > 0 {
			return tet.Handle, true, nil
		}
		next, err := v.neighbor(tet, 0)
		return next, false, err
	}
	start := rnd.Intn(4)
	for k := 0; k < 4; k++ {
		i := (start + k) % 4
		q := pts
		q[i] = pos
		if geom.Orient(q[0], q[1], q[2], q[3]) < 0 {
			next, err := v.neighbor(tet, i)
			return next, false, err
		}
	}
	return tet.Handle, true, nil
}

// snapshotView walks committed state without locks. What it sees may be
// mid-commit, so its answer is only a starting point.
type snapshotView struct{ s *Space }

func (v snapshotView) position(h Handle) (r3.Vec, error) {
	p, err := v.s.partition(h).snapshotPoint(h)
	if err != nil {
		return r3.Vec{}, err
	}
	return p.Position, nil
}

func (v snapshotView) neighbor(tet *Tetrahedron, i int) (Handle, error) {
	tri, err := v.s.partition(tet.Triangles[i]).snapshotTriangle(tet.Triangles[i])
	if err != nil {
		return None, err
	}
	next := tri.Other(tet.Handle)
	if next.IsNone() {
		return None, unknownError("neighbor of", tet.Handle)
	}
	return next, nil
}

// visibilityWalk walks toward pos from start over tetrahedra this
// partition owns. It stops when it finds the tetrahedron containing pos
// (found is true) or when the next step leaves the partition, returning
// the handle to continue from. steps counts tetrahedra visited.
func (p *Partition) visibilityWalk(pos r3.Vec, start Handle, budget int, rnd *rand.Rand) (h Handle, found bool, steps int, err error) {
	v := snapshotView{s: p.space}
	cur := start
	for steps < budget {
		tet, err := p.snapshotTetrahedron(cur)
		if err != nil {
			return cur, false, steps, err
		}
		steps++
		next, found, err := walkStep(v, tet, pos, rnd)
		if err != nil || found {
			return next, found, steps, err
		}
		if next.Part != p.id {
			return next, false, steps, nil
		}
		cur = next
	}
	return cur, false, steps, nil
}

// walkBudget bounds a walk over the whole mesh.
func (s *Space) walkBudget() int {
	return 2*s.TetrahedronCount() + 64
}

// locate finds a tetrahedron containing pos without taking locks,
// handing the walk from partition to partition. Walks that run into
// entities deleted under them restart from somewhere else.
func (s *Space) locate(ctx context.Context, pos r3.Vec, start Handle, rnd *rand.Rand) (Handle, error) {
	budget := s.walkBudget()
	cur := start
	restarts := 0
	for steps := 0; steps < budget; {
		if err := ctx.Err(); err != nil {
			return None, err
		}
		if cur.IsNone() {
			var ok bool
			if cur, ok = s.anyTetrahedron(); !ok {
				return None, errors.New(errors.ErrUnknownHandle, "no tetrahedra to walk")
			}
		}
		next, found, n, err := s.partition(cur).visibilityWalk(pos, cur, budget-steps, rnd)
		steps += n
		switch {
		case err != nil:
			if restarts++; restarts > 8 {
				return None, errors.Wrap(err, "walk kept losing its footing")
			}
			cur = None
		case found:
			return next, nil
		default:
			cur = next
		}
	}
	return None, errors.Newf(errors.ErrLocked, "walk toward %v exceeded %d steps", pos, budget)
}

// walkLocked finishes a walk under locks, starting from an unlocked
// guess, and returns the locked tetrahedron containing pos.
func (t *Txn) walkLocked(pos r3.Vec, start Handle) (*Tetrahedron, error) {
	budget := t.space.walkBudget() + len(t.tets)
	cur := start
	for n := 0; n < budget; n++ {
		tet, err := t.tet(cur)
		if err != nil {
			return nil, err
		}
		if !tet.valid {
			return nil, errors.Newf(errors.ErrInvariant, "walk entered deleted tetrahedron %s", cur)
		}
		next, found, err := walkStep(t, tet, pos, t.rnd)
		if err != nil {
			return nil, err
		}
		if found {
			return tet, nil
		}
		if next.IsNone() {
			return nil, errors.Newf(errors.ErrInvariant, "tetrahedron %s has an open face", cur)
		}
		cur = next
	}
	return nil, errors.Newf(errors.ErrLocked, "locked walk toward %v exceeded %d steps", pos, budget)
}
