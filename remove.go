// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"github.com/featurebasedb/tetra/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// targetPoint locks the point the transaction operates on. Its absence
// is final rather than a conflict.
func (t *Txn) targetPoint() (*Point, error) {
	p, err := t.point(t.target)
	if errors.Is(err, errors.ErrUnknownHandle) {
		return nil, targetGone{err}
	}
	return p, err
}

// remove deletes the transaction's target point.
func (t *Txn) remove() error {
	p, err := t.targetPoint()
	if err != nil {
		return err
	}
	t.announce(eventRemove, p, r3.Vec{})
	if len(p.Tetrahedra) == 0 {
		return t.bootstrapRemove(p)
	}
	if _, err := t.removePoint(p); err != nil {
		return err
	}
	p.valid = false
	return nil
}

// removePoint unlinks p from the mesh and fills the hole with the
// Delaunay tetrahedralization of its former neighbors. If too few points
// would remain to span a volume, the mesh dissolves back into its
// bootstrap graph instead, and dissolved is true.
func (t *Txn) removePoint(p *Point) (dissolved bool, err error) {
	if t.space.PointCount() <= 4 {
		return true, t.dissolve(p)
	}
	r := newRegion()
	for _, h := range p.Tetrahedra {
		if _, err := t.tet(h); err != nil {
			return false, err
		}
		r.add(h)
	}
	err = t.retriangulate(r, p.Handle, nil)
	if errors.Is(err, errors.ErrDegenerate) {
		return true, t.dissolve(p)
	}
	if err != nil {
		return false, err
	}
	p.Volume = 0
	return false, nil
}
