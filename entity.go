// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"github.com/featurebasedb/tetra/geom"
	"gonum.org/v1/gonum/spatial/r3"
	"golang.org/x/exp/slices"
)

// EdgeLink is a point's reference to one of its edges and the node at the
// other end.
type EdgeLink struct {
	Edge  Handle
	Other Handle
}

// Point is a node of the triangulation.
type Point struct {
	Handle   Handle
	Position r3.Vec
	Payload  interface{}

	// Volume is the point's share of the volume of its finite incident
	// tetrahedra, a quarter of each.
	Volume float64

	Edges      []EdgeLink
	Tetrahedra []Handle
	Listeners  []Listener

	valid bool
}

func (p *Point) clone() *Point {
	c := *p
	c.Edges = slices.Clone(p.Edges)
	c.Tetrahedra = slices.Clone(p.Tetrahedra)
	c.Listeners = slices.Clone(p.Listeners)
	return &c
}

// Valid reports whether the point has not been removed.
func (p *Point) Valid() bool { return p.valid }

// Neighbors returns the handles at the other end of the point's edges.
func (p *Point) Neighbors() []Handle {
	out := make([]Handle, 0, len(p.Edges))
	for _, l := range p.Edges {
		out = append(out, l.Other)
	}
	return out
}

func (p *Point) edgeTo(o Handle) (Handle, bool) {
	for _, l := range p.Edges {
		if l.Other == o {
			return l.Edge, true
		}
	}
	return None, false
}

func (p *Point) removeEdge(e Handle) {
	for i, l := range p.Edges {
		if l.Edge == e {
			p.Edges = slices.Delete(p.Edges, i, i+1)
			return
		}
	}
}

func (p *Point) removeTetrahedron(t Handle) {
	if i := slices.Index(p.Tetrahedra, t); i >= 0 {
		p.Tetrahedra = slices.Delete(p.Tetrahedra, i, i+1)
	}
}

// Edge connects two finite points. Edges to the point at infinity are not
// materialized.
type Edge struct {
	Handle       Handle
	A, B         Handle
	Tetrahedra   []Handle
	CrossSection float64

	valid bool
}

func (e *Edge) clone() *Edge {
	c := *e
	c.Tetrahedra = slices.Clone(e.Tetrahedra)
	return &c
}

// Opposite returns the endpoint that is not n.
func (e *Edge) Opposite(n Handle) Handle {
	if e.A == n {
		return e.B
	}
	return e.A
}

func (e *Edge) removeTetrahedron(t Handle) {
	if i := slices.Index(e.Tetrahedra, t); i >= 0 {
		e.Tetrahedra = slices.Delete(e.Tetrahedra, i, i+1)
	}
}

// Triangle is a face shared by two tetrahedra. Nodes are in canonical
// order, so a triangle on the convex hull's ghost shell has None first.
type Triangle struct {
	Handle     Handle
	Nodes      [3]Handle
	Tetrahedra [2]Handle

	// Plane caches the equation of a finite triangle through its nodes in
	// order. UpperPositive records whether Tetrahedra[0] lies on the
	// plane's positive side.
	Plane         geom.Plane
	UpperPositive bool

	// Checked marks the triangle as found locally Delaunay during a flip
	// run. Changing its tetrahedra clears it.
	Checked bool

	valid bool
}

func (t *Triangle) clone() *Triangle {
	c := *t
	return &c
}

// IsHull reports whether the triangle belongs to the ghost shell.
func (t *Triangle) IsHull() bool { return t.Nodes[0].IsNone() }

// Other returns the tetrahedron on the other side from tet.
func (t *Triangle) Other(tet Handle) Handle {
	if t.Tetrahedra[0] == tet {
		return t.Tetrahedra[1]
	}
	return t.Tetrahedra[0]
}

func (t *Triangle) attach(tet Handle) bool {
	t.Checked = false
	for i := range t.Tetrahedra {
		if t.Tetrahedra[i].IsNone() {
			t.Tetrahedra[i] = tet
			return true
		}
	}
	return false
}

func (t *Triangle) detach(tet Handle) {
	t.Checked = false
	for i := range t.Tetrahedra {
		if t.Tetrahedra[i] == tet {
			t.Tetrahedra[i] = None
		}
	}
}

func (t *Triangle) degree() int {
	n := 0
	for _, h := range t.Tetrahedra {
		if !h.IsNone() {
			n++
		}
	}
	return n
}

// Tetrahedron is a cell of the triangulation. Triangles[i] is the face
// opposite Nodes[i]; Edges and CrossSections follow geom.EdgePairs. A
// tetrahedron with Nodes[0] None is a ghost bounding the convex hull.
type Tetrahedron struct {
	Handle        Handle
	Nodes         [4]Handle
	Triangles     [4]Handle
	Edges         [6]Handle
	CrossSections [6]float64
	Sphere        geom.Sphere
	Volume        float64

	// Flat marks a zero volume tetrahedron created by a flip on a
	// coplanar configuration. Flats never outlive a transaction.
	Flat bool

	valid bool
}

func (t *Tetrahedron) clone() *Tetrahedron {
	c := *t
	return &c
}

// IsGhost reports whether the tetrahedron has a node at infinity.
func (t *Tetrahedron) IsGhost() bool { return t.Nodes[0].IsNone() }

// FaceIndex returns the index of the face with the given triangle handle.
func (t *Tetrahedron) FaceIndex(tri Handle) int {
	for i, h := range t.Triangles {
		if h == tri {
			return i
		}
	}
	return -1
}
