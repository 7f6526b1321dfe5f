// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"github.com/featurebasedb/tetra/errors"
	"gonum.org/v1/gonum/spatial/r3"
	"golang.org/x/exp/slices"
)

// Until four points span a volume there are no tetrahedra. The points are
// instead joined pairwise by edges, so neighbor queries still work, and
// every operation locks the whole point set.

// lockAllPoints locks every committed point, then checks that no point
// appeared or vanished meanwhile.
func (t *Txn) lockAllPoints() ([]*Point, error) {
	hs := t.space.pointHandles()
	out := make([]*Point, 0, len(hs))
	for _, h := range hs {
		p, err := t.point(h)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if again := t.space.pointHandles(); len(again) != len(hs) {
		return nil, errors.Newf(errors.ErrLocked, "point set changed from %d to %d points", len(hs), len(again))
	}
	return out, nil
}

// spansVolume reports whether the points are not all coplanar.
func spansVolume(pos map[Handle]r3.Vec) bool {
	_, err := buildLocal(pos)
	return err == nil
}

func positionsOf(pts []*Point) map[Handle]r3.Vec {
	pos := make(map[Handle]r3.Vec, len(pts))
	for _, p := range pts {
		if p.valid {
			pos[p.Handle] = p.Position
		}
	}
	return pos
}

// bootstrapInsert adds the target point to a mesh without tetrahedra.
func (t *Txn) bootstrapInsert() error {
	pts, err := t.lockAllPoints()
	if err != nil {
		return err
	}
	if t.space.TetrahedronCount() != 0 {
		return errors.New(errors.ErrLocked, "mesh materialized meanwhile")
	}
	for _, o := range pts {
		if o.Position == t.pos {
			return positionNotAllowed(t.pos, t.propose(o.Handle, o.Position), o.Handle)
		}
	}
	p, err := t.newPoint()
	if err != nil {
		return err
	}
	if err := t.settleBootstrap(append(pts, p)); err != nil {
		return err
	}
	t.announceAdd(p.Handle)
	return nil
}

// bootstrapRemove deletes p from a mesh without tetrahedra.
func (t *Txn) bootstrapRemove(p *Point) error {
	if _, err := t.lockAllPoints(); err != nil {
		return err
	}
	if t.space.TetrahedronCount() != 0 {
		return errors.New(errors.ErrLocked, "mesh materialized meanwhile")
	}
	p.valid = false
	t.bootstrap = true
	for _, l := range slices.Clone(p.Edges) {
		e, err := t.edge(l.Edge)
		if err != nil {
			return err
		}
		if err := t.dropEdge(e); err != nil {
			return err
		}
	}
	return nil
}

// bootstrapMove relocates p in a mesh without tetrahedra.
func (t *Txn) bootstrapMove(p *Point, to r3.Vec) error {
	pts, err := t.lockAllPoints()
	if err != nil {
		return err
	}
	if t.space.TetrahedronCount() != 0 {
		return errors.New(errors.ErrLocked, "mesh materialized meanwhile")
	}
	for _, o := range pts {
		if o.Handle != p.Handle && o.Position == to {
			return positionNotAllowed(to, t.propose(o.Handle, o.Position), o.Handle)
		}
	}
	p.Position = to
	return t.settleBootstrap(pts)
}

// settleBootstrap completes the edge graph over pts and materializes
// tetrahedra once they span a volume.
func (t *Txn) settleBootstrap(pts []*Point) error {
	for i, a := range pts {
		for _, b := range pts[i+1:] {
			if _, err := t.edgeBetween(a.Handle, b.Handle, true); err != nil {
				return err
			}
		}
	}
	pos := positionsOf(pts)
	local, err := buildLocal(pos)
	if errors.Is(err, errors.ErrDegenerate) {
		t.bootstrap = true
		return nil
	}
	if err != nil {
		return err
	}
	t.bootstrap = false
	f := newHoleFiller()
	for _, i := range local.live() {
		if _, err := t.createTetrahedron(f, local.tets[i]); err != nil {
			return err
		}
	}
	t.space.logger.Infof("mesh materialized over %d points", len(pos))
	return f.Close(t)
}

// dissolve tears down every tetrahedron, triangle and edge, removes gone
// from the point set and rebuilds the complete edge graph. It is used
// when a deletion leaves too few points, or only coplanar ones.
func (t *Txn) dissolve(gone *Point) error {
	pts, err := t.lockAllPoints()
	if err != nil {
		return err
	}
	gone.valid = false
	pos := positionsOf(pts)
	delete(pos, gone.Handle)
	if len(pos) >= 4 && spansVolume(pos) {
		return errors.Newf(errors.ErrLocked, "%d points remain in volume, not dissolving", len(pos))
	}
	for _, p := range pts {
		for _, th := range slices.Clone(p.Tetrahedra) {
			tet, err := t.tet(th)
			if err != nil {
				return err
			}
			if !tet.valid {
				continue
			}
			tet.valid = false
			for _, tr := range tet.Triangles {
				tri, err := t.triangle(tr)
				if err != nil {
					return err
				}
				tri.valid = false
				tri.Tetrahedra = [2]Handle{}
			}
			for _, eh := range tet.Edges {
				if eh.IsNone() {
					continue
				}
				e, err := t.edge(eh)
				if err != nil {
					return err
				}
				e.Tetrahedra = nil
				e.CrossSection = 0
			}
		}
	}
	// Ghosts touch only hull points, all of which were visited above.
	for _, p := range pts {
		p.Tetrahedra = nil
		p.Volume = 0
	}
	for _, l := range slices.Clone(gone.Edges) {
		e, err := t.edge(l.Edge)
		if err != nil {
			return err
		}
		if err := t.dropEdge(e); err != nil {
			return err
		}
	}
	t.bootstrap = true
	var live []*Point
	for _, p := range pts {
		if p.valid {
			live = append(live, p)
		}
	}
	t.space.logger.Infof("mesh dissolved to %d points", len(live))
	for i, a := range live {
		for _, b := range live[i+1:] {
			if _, err := t.edgeBetween(a.Handle, b.Handle, true); err != nil {
				return err
			}
		}
	}
	return nil
}
