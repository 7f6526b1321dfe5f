// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"context"

	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/geom"
	"gonum.org/v1/gonum/spatial/r3"
	"golang.org/x/exp/slices"
)

// move displaces the target point by t.delta using the cheapest strategy
// that applies: flips while the point's star stays valid, otherwise a
// local cleanup, otherwise deletion and reinsertion.
func (t *Txn) move(ctx context.Context) error {
	p, err := t.targetPoint()
	if err != nil {
		return err
	}
	to := r3.Add(p.Position, t.delta)
	if to == p.Position {
		return nil
	}
	t.announce(eventMove, p, t.delta)
	if len(p.Tetrahedra) == 0 {
		return t.bootstrapMove(p, to)
	}
	guess, err := t.space.locate(ctx, to, p.Tetrahedra[0], t.rnd)
	if err != nil {
		return err
	}
	at, err := t.walkLocked(to, guess)
	if err != nil {
		return err
	}
	if err := t.checkVacant(at, to, p.Handle); err != nil {
		return err
	}
	if t.moveUsed == moveFlip {
		ok, err := t.flippable(p, to)
		if err != nil {
			return err
		}
		if !ok {
			t.moveUsed = moveReinsert
		}
	}
	switch t.moveUsed {
	case moveFlip:
		return t.moveByFlips(p, to)
	case moveCleanup:
		return t.moveByCleanup(p, to, at)
	}
	return t.moveByReinsert(p, to)
}

// flippable reports whether p is interior and every tetrahedron of its
// star stays positively oriented with p at to.
func (t *Txn) flippable(p *Point, to r3.Vec) (bool, error) {
	for _, th := range p.Tetrahedra {
		tet, err := t.tet(th)
		if err != nil {
			return false, err
		}
		if tet.IsGhost() {
			return false, nil
		}
		pts, err := t.positions(tet.Nodes)
		if err != nil {
			return false, err
		}
		pts[indexOf(tet.Nodes, p.Handle)] = to
		if geom.Orient(pts[0], pts[1], pts[2], pts[3]) <= 0 {
			return false, nil
		}
	}
	return true, nil
}

// moveByFlips moves p in place, then flips faces until the mesh is
// Delaunay again.
func (t *Txn) moveByFlips(p *Point, to r3.Vec) error {
	p.Position = to
	var stack []Handle
	for _, th := range slices.Clone(p.Tetrahedra) {
		tet, err := t.tet(th)
		if err != nil {
			return err
		}
		if err := t.reshape(tet); err != nil {
			return err
		}
		stack = append(stack, tet.Triangles[:]...)
	}
	return t.flipToDelaunay(stack)
}

// locallyDelaunay reports whether the apex of t2 across tri lies outside
// the circumsphere of t1.
func (t *Txn) locallyDelaunay(tri *Triangle, t1, t2 *Tetrahedron) (bool, error) {
	b := t2.Nodes[t2.FaceIndex(tri.Handle)]
	pts, err := t.positions(t1.Nodes)
	if err != nil {
		return false, err
	}
	bp, err := t.position(b)
	if err != nil {
		return false, err
	}
	var ranks [5]uint64
	for i, n := range t1.Nodes {
		ranks[i] = n.Addr
	}
	ranks[4] = b.Addr
	return geom.InSpherePerturbed([5]r3.Vec{pts[0], pts[1], pts[2], pts[3], bp}, ranks) <= 0, nil
}

// flipPair returns the two live, finite, non-flat tetrahedra sharing tri,
// or nil if there are none.
func (t *Txn) flipPair(th Handle) (*Triangle, *Tetrahedron, *Tetrahedron, error) {
	tri, err := t.triangle(th)
	if err != nil || !tri.valid || tri.degree() != 2 || tri.IsHull() {
		return nil, nil, nil, err
	}
	t1, err := t.tet(tri.Tetrahedra[0])
	if err != nil {
		return nil, nil, nil, err
	}
	t2, err := t.tet(tri.Tetrahedra[1])
	if err != nil {
		return nil, nil, nil, err
	}
	if !t1.valid || !t2.valid || t1.IsGhost() || t2.IsGhost() || t1.Flat || t2.Flat {
		return nil, nil, nil, nil
	}
	return tri, t1, t2, nil
}

// flipToDelaunay runs flips from the given faces until every face
// reached is locally Delaunay. Faces that cannot be flipped yet are
// retried after the others; a round without progress stalls.
func (t *Txn) flipToDelaunay(stack []Handle) error {
	limit := 64 + 16*len(stack)
	var flats, stuck []Handle
	progress := false
	for steps := 0; ; {
		if len(stack) == 0 {
			if len(stuck) == 0 || !progress {
				break
			}
			stack, stuck, progress = stuck, nil, false
		}
		th := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		tri, t1, t2, err := t.flipPair(th)
		if err != nil {
			return err
		}
		if tri == nil || tri.Checked {
			continue
		}
		ok, err := t.locallyDelaunay(tri, t1, t2)
		if err != nil {
			return err
		}
		if ok {
			tri.Checked = true
			continue
		}
		if steps++; steps > limit {
			return errors.Newf(errors.ErrFlipStall, "no convergence after %d flips", limit)
		}
		created, err := t.flip(tri, t1, t2)
		if err != nil {
			return err
		}
		if created == nil {
			stuck = append(stuck, th)
			continue
		}
		progress = true
		for _, c := range created {
			stack = append(stack, c.Triangles[:]...)
			if !c.Flat {
				continue
			}
			flats = append(flats, c.Handle)
			for i := range c.Triangles {
				nh, err := t.neighbor(c, i)
				if err != nil {
					return err
				}
				n, err := t.tet(nh)
				if err != nil {
					return err
				}
				stack = append(stack, n.Triangles[:]...)
			}
		}
		if flats, stack, err = t.pairFlats(flats, stack); err != nil {
			return err
		}
	}
	for _, h := range flats {
		if t.tets[h].valid {
			return errors.Newf(errors.ErrFlipStall, "flat tetrahedron %s left unpaired", h)
		}
	}
	for _, th := range stuck {
		tri, t1, t2, err := t.flipPair(th)
		if err != nil {
			return err
		}
		if tri == nil {
			continue
		}
		if ok, err := t.locallyDelaunay(tri, t1, t2); err != nil {
			return err
		} else if !ok {
			return errors.Newf(errors.ErrFlipStall, "face %s %v cannot be flipped", th, tri.Nodes)
		}
	}
	return nil
}

// flip replaces the two tetrahedra sharing tri. With the apex b of t2
// substituted for each node of tri in t1, all positive gives a 2-3 flip;
// one negative gives a 3-2 flip when the edge left out is shared by
// exactly three tetrahedra; one zero gives a 2-3 flip whose zero volume
// member is marked Flat. It returns nil if no flip applies.
func (t *Txn) flip(tri *Triangle, t1, t2 *Tetrahedron) ([]*Tetrahedron, error) {
	i1 := t1.FaceIndex(tri.Handle)
	a, b := t1.Nodes[i1], t2.Nodes[t2.FaceIndex(tri.Handle)]
	pts, err := t.positions(t1.Nodes)
	if err != nil {
		return nil, err
	}
	bp, err := t.position(b)
	if err != nil {
		return nil, err
	}
	neg, nneg, nzero := -1, 0, 0
	for j := 0; j < 4; j++ {
		if j == i1 {
			continue
		}
		q := pts
		q[j] = bp
		switch geom.Orient(q[0], q[1], q[2], q[3]) {
		case -1:
			neg = j
			nneg++
		case 0:
			nzero++
		}
	}

	var gone []*Tetrahedron
	var build [][4]Handle
	switch {
	case nneg == 0 && nzero <= 1:
		gone = []*Tetrahedron{t1, t2}
		for j := 0; j < 4; j++ {
			if j != i1 {
				nodes := t1.Nodes
				nodes[j] = b
				build = append(build, nodes)
			}
		}
		t.flips.f23++
	case nneg == 1 && nzero == 0:
		var uv []int
		for j := 0; j < 4; j++ {
			if j != i1 && j != neg {
				uv = append(uv, j)
			}
		}
		u, v := t1.Nodes[uv[0]], t1.Nodes[uv[1]]
		e, err := t.edgeBetween(u, v, false)
		if err != nil || e == nil || len(e.Tetrahedra) != 3 {
			return nil, err
		}
		var t3 *Tetrahedron
		for _, h := range e.Tetrahedra {
			if h != t1.Handle && h != t2.Handle {
				if t3, err = t.tet(h); err != nil {
					return nil, err
				}
			}
		}
		if t3 == nil || !hasNode(t3.Nodes[:], a) || !hasNode(t3.Nodes[:], b) {
			return nil, nil
		}
		gone = []*Tetrahedron{t1, t2, t3}
		for _, j := range uv {
			nodes := t1.Nodes
			nodes[j] = b
			build = append(build, nodes)
		}
		t.flips.f32++
	default:
		return nil, nil
	}

	f := newHoleFiller()
	for _, g := range gone {
		if err := t.deleteTetrahedron(f, g.Handle); err != nil {
			return nil, err
		}
	}
	created := make([]*Tetrahedron, 0, len(build))
	for _, nodes := range build {
		c, err := t.createTetrahedron(f, nodes)
		if err != nil {
			return nil, err
		}
		created = append(created, c)
	}
	return created, f.Close(t)
}

// pairFlats removes pairs of flat tetrahedra on the same four nodes and
// glues the triangles they leave open, completing a 4-4 flip.
func (t *Txn) pairFlats(flats, stack []Handle) ([]Handle, []Handle, error) {
	live := flats[:0]
	for _, h := range flats {
		if t.tets[h].valid {
			live = append(live, h)
		}
	}
	flats = live
	for i := 0; i < len(flats); i++ {
		fi := t.tets[flats[i]]
		for j := i + 1; j < len(flats); j++ {
			fj := t.tets[flats[j]]
			if !sameNodes(fi.Nodes, fj.Nodes) {
				continue
			}
			f := newHoleFiller()
			if err := t.deleteTetrahedron(f, fi.Handle); err != nil {
				return nil, nil, err
			}
			if err := t.deleteTetrahedron(f, fj.Handle); err != nil {
				return nil, nil, err
			}
			if err := f.glue(t); err != nil {
				return nil, nil, err
			}
			stack = append(stack, f.tracked...)
			if err := f.Close(t); err != nil {
				return nil, nil, err
			}
			t.flips.f44++
			flats = slices.Delete(flats, j, j+1)
			flats = slices.Delete(flats, i, i+1)
			i--
			break
		}
	}
	return flats, stack, nil
}

func sameNodes(a, b [4]Handle) bool {
	for _, n := range a {
		if !hasNode(b[:], n) {
			return false
		}
	}
	return true
}

// moveByCleanup re-triangulates the star of p together with everything
// in conflict with its new position, found from at.
func (t *Txn) moveByCleanup(p *Point, to r3.Vec, at *Tetrahedron) error {
	r := newRegion()
	for _, th := range p.Tetrahedra {
		if _, err := t.tet(th); err != nil {
			return err
		}
		r.add(th)
	}
	cavity, _, err := t.conflictRegion(at, to, p.Handle.Addr)
	if err != nil {
		return err
	}
	for _, h := range cavity {
		r.add(h)
	}
	return t.retriangulate(r, None, map[Handle]r3.Vec{p.Handle: to})
}

// moveByReinsert deletes p and inserts it again at to under the same
// handle.
func (t *Txn) moveByReinsert(p *Point, to r3.Vec) error {
	dissolved, err := t.removePoint(p)
	if err != nil {
		return err
	}
	p.Position, p.Volume, p.valid = to, 0, true
	if dissolved {
		var pts []*Point
		for _, h := range sortedHandles(t.points) {
			if q := t.points[h]; q.valid {
				pts = append(pts, q)
			}
		}
		return t.settleBootstrap(pts)
	}
	start := None
	for _, h := range sortedHandles(t.tets) {
		if t.tets[h].valid {
			start = h
			break
		}
	}
	if start.IsNone() {
		return errors.Newf(errors.ErrInvariant, "no tetrahedra left after removing %s", p.Handle)
	}
	at, err := t.walkLocked(to, start)
	if err != nil {
		return err
	}
	return t.insertAt(p, at)
}
