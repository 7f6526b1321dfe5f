// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// peekNodes returns a tetrahedron's nodes without locking it. Nodes never
// change over a tetrahedron's life, so a snapshot is good enough.
func (t *Txn) peekNodes(h Handle) ([4]Handle, error) {
	if tet, ok := t.tets[h]; ok {
		return tet.Nodes, nil
	}
	tet, err := t.space.partition(h).snapshotTetrahedron(h)
	if err != nil {
		return [4]Handle{}, err
	}
	return tet.Nodes, nil
}

// peekPosition returns a point's position from the cache or, unlocked,
// from its owner.
func (t *Txn) peekPosition(h Handle) (r3.Vec, error) {
	if p, ok := t.points[h]; ok {
		return p.Position, nil
	}
	p, err := t.space.partition(h).snapshotPoint(h)
	if err != nil {
		return r3.Vec{}, err
	}
	return p.Position, nil
}

func (t *Txn) positions(nodes [4]Handle) ([4]r3.Vec, error) {
	var pts [4]r3.Vec
	for i, n := range nodes {
		if n.IsNone() {
			continue
		}
		p, err := t.position(n)
		if err != nil {
			return pts, err
		}
		pts[i] = p
	}
	return pts, nil
}

// shape recomputes a tetrahedron's cached geometry from its nodes'
// current positions.
func (t *Txn) shape(tet *Tetrahedron) error {
	tet.Volume, tet.Flat = 0, false
	tet.Sphere, tet.CrossSections = geom.Sphere{}, [6]float64{}
	if tet.IsGhost() {
		return nil
	}
	pts, err := t.positions(tet.Nodes)
	if err != nil {
		return err
	}
	switch geom.Orient(pts[0], pts[1], pts[2], pts[3]) {
	case 0:
		tet.Flat = true
		return nil
	case -1:
		return errors.Newf(errors.ErrInvariant, "tetrahedron %s %v is inverted", tet.Handle, tet.Nodes)
	}
	tet.Volume = geom.Volume(pts[0], pts[1], pts[2], pts[3])
	tet.Sphere, _ = geom.Circumsphere(pts[0], pts[1], pts[2], pts[3])
	tet.CrossSections = geom.CrossSections(pts)
	return nil
}

// contribute adds (sign 1) or withdraws (sign -1) a tetrahedron's share
// of volume to its points and cross sections to its edges.
func (t *Txn) contribute(tet *Tetrahedron, sign float64) error {
	if tet.IsGhost() {
		return nil
	}
	for _, n := range tet.Nodes {
		p, err := t.point(n)
		if err != nil {
			return err
		}
		p.Volume += sign * tet.Volume / 4
	}
	for k, eh := range tet.Edges {
		if eh.IsNone() {
			continue
		}
		e, err := t.edge(eh)
		if err != nil {
			return err
		}
		e.CrossSection += sign * tet.CrossSections[k]
	}
	return nil
}

// reshape refreshes a live tetrahedron after one of its nodes moved.
func (t *Txn) reshape(tet *Tetrahedron) error {
	if err := t.contribute(tet, -1); err != nil {
		return err
	}
	if err := t.shape(tet); err != nil {
		return err
	}
	return t.contribute(tet, 1)
}

// edgeBetween returns the edge joining a and b, creating it if asked.
func (t *Txn) edgeBetween(a, b Handle, create bool) (*Edge, error) {
	pa, err := t.point(a)
	if err != nil {
		return nil, err
	}
	if eh, ok := pa.edgeTo(b); ok {
		return t.edge(eh)
	}
	if !create {
		return nil, nil
	}
	pb, err := t.point(b)
	if err != nil {
		return nil, err
	}
	h, err := t.newHandle(t.ownerOf([]Handle{a, b}), kindEdge)
	if err != nil {
		return nil, err
	}
	e := &Edge{Handle: h, A: a, B: b, valid: true}
	t.edges[h] = e
	pa.Edges = append(pa.Edges, EdgeLink{Edge: h, Other: b})
	pb.Edges = append(pb.Edges, EdgeLink{Edge: h, Other: a})
	return e, nil
}

// dropEdge deletes an edge and unlinks it from its endpoints.
func (t *Txn) dropEdge(e *Edge) error {
	e.valid = false
	for _, n := range []Handle{e.A, e.B} {
		p, err := t.point(n)
		if err != nil {
			return err
		}
		p.removeEdge(e.Handle)
	}
	return nil
}

// createTetrahedron materializes a positively oriented tetrahedron (or
// normalized ghost) whose faces come from f, and links it to its points
// and edges.
func (t *Txn) createTetrahedron(f *holeFiller, nodes [4]Handle) (*Tetrahedron, error) {
	h, err := t.newHandle(t.ownerOf(nodes[:]), kindTetrahedron)
	if err != nil {
		return nil, err
	}
	tet := &Tetrahedron{Handle: h, Nodes: nodes, valid: true}
	t.tets[h] = tet
	if err := t.shape(tet); err != nil {
		return nil, err
	}
	for i := range nodes {
		tri, err := f.attach(t, faceTriple(nodes, i), h)
		if err != nil {
			return nil, err
		}
		tet.Triangles[i] = tri.Handle
	}
	for k, pr := range geom.EdgePairs {
		a, b := nodes[pr[0]], nodes[pr[1]]
		if a.IsNone() || b.IsNone() {
			continue
		}
		e, err := t.edgeBetween(a, b, true)
		if err != nil {
			return nil, err
		}
		e.Tetrahedra = append(e.Tetrahedra, h)
		tet.Edges[k] = e.Handle
	}
	for _, n := range nodes {
		if n.IsNone() {
			continue
		}
		p, err := t.point(n)
		if err != nil {
			return nil, err
		}
		p.Tetrahedra = append(p.Tetrahedra, h)
	}
	return tet, t.contribute(tet, 1)
}

// deleteTetrahedron removes a tetrahedron, leaving its triangles open in
// f for the tetrahedra that will replace it.
func (t *Txn) deleteTetrahedron(f *holeFiller, h Handle) error {
	tet, err := t.tet(h)
	if err != nil {
		return err
	}
	if !tet.valid {
		return nil
	}
	if err := t.contribute(tet, -1); err != nil {
		return err
	}
	tet.valid = false
	for _, th := range tet.Triangles {
		tri, err := t.triangle(th)
		if err != nil {
			return err
		}
		tri.detach(h)
		f.track(tri)
	}
	for _, eh := range tet.Edges {
		if eh.IsNone() {
			continue
		}
		e, err := t.edge(eh)
		if err != nil {
			return err
		}
		e.removeTetrahedron(h)
	}
	for _, n := range tet.Nodes {
		if n.IsNone() {
			continue
		}
		p, err := t.point(n)
		if err != nil {
			return err
		}
		p.removeTetrahedron(h)
	}
	return nil
}

// orientTriangle recomputes a triangle's plane and which side its first
// tetrahedron is on.
func (t *Txn) orientTriangle(tri *Triangle) error {
	tri.Plane, tri.UpperPositive = geom.Plane{}, false
	if tri.IsHull() {
		return nil
	}
	var pts [3]r3.Vec
	for i, n := range tri.Nodes {
		p, err := t.position(n)
		if err != nil {
			return err
		}
		pts[i] = p
	}
	tri.Plane = geom.NewPlane(pts[0], pts[1], pts[2])
	for k, th := range tri.Tetrahedra {
		nodes, err := t.peekNodes(th)
		if err != nil {
			return err
		}
		apex := None
		for _, n := range nodes {
			if !hasNode(tri.Nodes[:], n) {
				apex = n
			}
		}
		if apex.IsNone() {
			continue
		}
		x, err := t.peekPosition(apex)
		if err != nil {
			return err
		}
		side := tri.Plane.Side(pts[0], pts[1], pts[2], x)
		tri.UpperPositive = (side > 0) == (k == 0)
		return nil
	}
	return nil
}

// finalize settles the cached mesh before commit: it drops triangles and
// edges no tetrahedron uses and refreshes triangle planes. Open triangles
// and flat tetrahedra at this point are bugs.
func (t *Txn) finalize() error {
	for _, h := range sortedHandles(t.tets) {
		if tet := t.tets[h]; tet.valid && tet.Flat {
			return errors.Newf(errors.ErrInvariant, "txn %d left flat tetrahedron %s", t.id, h)
		}
	}
	for _, h := range sortedHandles(t.triangles) {
		tri := t.triangles[h]
		if !tri.valid {
			continue
		}
		switch tri.degree() {
		case 0:
			tri.valid = false
			continue
		case 1:
			return errors.Newf(errors.ErrInvariant, "txn %d left open triangle %s %v", t.id, h, tri.Nodes)
		}
		if err := t.orientTriangle(tri); err != nil {
			return err
		}
	}
	if t.bootstrap {
		return nil
	}
	for _, h := range sortedHandles(t.edges) {
		if e := t.edges[h]; e.valid && len(e.Tetrahedra) == 0 {
			if err := t.dropEdge(e); err != nil {
				return err
			}
		}
	}
	return nil
}
