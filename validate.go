// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"fmt"
	"math"
	"strings"

	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// meshSnapshot is a copy of every committed entity.
type meshSnapshot struct {
	points    map[Handle]*Point
	edges     map[Handle]*Edge
	triangles map[Handle]*Triangle
	tets      map[Handle]*Tetrahedron
	locks     int
}

func (s *Space) snapshot() *meshSnapshot {
	m := &meshSnapshot{
		points:    make(map[Handle]*Point),
		edges:     make(map[Handle]*Edge),
		triangles: make(map[Handle]*Triangle),
		tets:      make(map[Handle]*Tetrahedron),
	}
	for _, p := range s.partitions {
		p.mu.RLock()
		for _, x := range p.points {
			m.points[x.Handle] = x.clone()
		}
		for _, x := range p.edges {
			m.edges[x.Handle] = x.clone()
		}
		for _, x := range p.triangles {
			m.triangles[x.Handle] = x.clone()
		}
		for _, x := range p.tetrahedra {
			m.tets[x.Handle] = x.clone()
		}
		p.mu.RUnlock()
		m.locks += p.locks.Len()
	}
	return m
}

type problems []string

func (ps *problems) add(format string, args ...interface{}) {
	*ps = append(*ps, fmt.Sprintf(format, args...))
}

// Validate checks the committed mesh: cross references, orientation,
// closure, the Delaunay property, hull convexity, volume and cross-section
// bookkeeping and empty lock tables. It must run while the space is idle.
func (s *Space) Validate() error {
	m := s.snapshot()
	var ps problems
	if m.locks != 0 {
		ps.add("%d locks held while idle", m.locks)
	}
	if len(m.tets) == 0 {
		m.validateBootstrap(&ps)
	} else {
		m.validateLinks(&ps)
		if len(ps) == 0 {
			m.validateGeometry(&ps)
		}
	}
	if len(ps) == 0 {
		return nil
	}
	const show = 20
	more := ""
	if len(ps) > show {
		more = fmt.Sprintf("\n... and %d more", len(ps)-show)
		ps = ps[:show]
	}
	return errors.Newf(errors.ErrInvariant, "mesh invalid:\n%s%s", strings.Join(ps, "\n"), more)
}

func (m *meshSnapshot) validateBootstrap(ps *problems) {
	if len(m.triangles) != 0 {
		ps.add("%d triangles without tetrahedra", len(m.triangles))
	}
	pos := make(map[Handle]r3.Vec, len(m.points))
	for h, p := range m.points {
		pos[h] = p.Position
		if len(p.Edges) != len(m.points)-1 {
			ps.add("bootstrap point %s has %d edges, want %d", h, len(p.Edges), len(m.points)-1)
		}
	}
	if len(pos) >= 4 && spansVolume(pos) {
		ps.add("%d points span a volume but no tetrahedra exist", len(pos))
	}
	if want := len(m.points) * (len(m.points) - 1) / 2; len(m.edges) != want {
		ps.add("bootstrap has %d edges, want %d", len(m.edges), want)
	}
}

func (m *meshSnapshot) validateLinks(ps *problems) {
	for h, tet := range m.tets {
		for i, n := range tet.Nodes {
			if n.IsNone() {
				if i != 0 {
					ps.add("tetrahedron %s has infinity at %d", h, i)
				}
				continue
			}
			p, ok := m.points[n]
			if !ok {
				ps.add("tetrahedron %s node %s missing", h, n)
				continue
			}
			if !hasNode(p.Tetrahedra, h) {
				ps.add("point %s does not list tetrahedron %s", n, h)
			}
		}
		for i, th := range tet.Triangles {
			tri, ok := m.triangles[th]
			if !ok {
				ps.add("tetrahedron %s face %d triangle %s missing", h, i, th)
				continue
			}
			if triple(tri.Nodes) != faceTriple(tet.Nodes, i) {
				ps.add("tetrahedron %s face %d is %v, triangle %s has %v", h, i, faceTriple(tet.Nodes, i), th, tri.Nodes)
			}
			if tri.Tetrahedra[0] != h && tri.Tetrahedra[1] != h {
				ps.add("triangle %s does not list tetrahedron %s", th, h)
			}
		}
		for k, pr := range geom.EdgePairs {
			a, b := tet.Nodes[pr[0]], tet.Nodes[pr[1]]
			eh := tet.Edges[k]
			if a.IsNone() || b.IsNone() {
				if !eh.IsNone() {
					ps.add("tetrahedron %s has an edge to infinity", h)
				}
				continue
			}
			e, ok := m.edges[eh]
			if !ok {
				ps.add("tetrahedron %s edge %d %s missing", h, k, eh)
				continue
			}
			if makePair(e.A, e.B) != makePair(a, b) {
				ps.add("tetrahedron %s edge %d joins %s-%s, want %s-%s", h, k, e.A, e.B, a, b)
			}
			if !hasNode(e.Tetrahedra, h) {
				ps.add("edge %s does not list tetrahedron %s", eh, h)
			}
		}
	}
	for h, tri := range m.triangles {
		for _, th := range tri.Tetrahedra {
			tet, ok := m.tets[th]
			if !ok {
				ps.add("triangle %s tetrahedron %s missing", h, th)
				continue
			}
			if tet.FaceIndex(h) < 0 {
				ps.add("tetrahedron %s does not use triangle %s", th, h)
			}
		}
	}
	for h, e := range m.edges {
		if len(e.Tetrahedra) == 0 {
			ps.add("edge %s has no tetrahedra", h)
		}
		for _, n := range []Handle{e.A, e.B} {
			p, ok := m.points[n]
			if !ok {
				ps.add("edge %s endpoint %s missing", h, n)
				continue
			}
			if eh, ok := p.edgeTo(e.Opposite(n)); !ok || eh != h {
				ps.add("point %s does not link edge %s", n, h)
			}
		}
		for _, th := range e.Tetrahedra {
			if _, ok := m.tets[th]; !ok {
				ps.add("edge %s tetrahedron %s missing", h, th)
			}
		}
	}
	for h, p := range m.points {
		if len(p.Tetrahedra) == 0 {
			ps.add("point %s is outside the mesh", h)
		}
		for _, th := range p.Tetrahedra {
			tet, ok := m.tets[th]
			if !ok || indexOf(tet.Nodes, h) < 0 {
				ps.add("point %s lists tetrahedron %s that does not contain it", h, th)
			}
		}
		for _, l := range p.Edges {
			if e, ok := m.edges[l.Edge]; !ok || e.Opposite(h) != l.Other {
				ps.add("point %s links edge %s to %s wrongly", h, l.Edge, l.Other)
			}
		}
	}
}

func (m *meshSnapshot) pos(h Handle) r3.Vec { return m.points[h].Position }

func (m *meshSnapshot) validateGeometry(ps *problems) {
	volume := make(map[Handle]float64, len(m.points))
	sections := make(map[Handle]float64, len(m.edges))
	total := 0.0
	for h, tet := range m.tets {
		if tet.Flat {
			ps.add("tetrahedron %s is flat", h)
		}
		for k, eh := range tet.Edges {
			if !eh.IsNone() {
				sections[eh] += tet.CrossSections[k]
			}
		}
		if tet.IsGhost() {
			a, b, c := m.pos(tet.Nodes[1]), m.pos(tet.Nodes[2]), m.pos(tet.Nodes[3])
			for x, p := range m.points {
				if hasNode(tet.Nodes[:], x) {
					continue
				}
				if geom.Orient(p.Position, a, b, c) > 0 {
					ps.add("point %s lies beyond hull facet %s", x, h)
				}
			}
			continue
		}
		var pts [4]r3.Vec
		for i, n := range tet.Nodes {
			pts[i] = m.pos(n)
		}
		if geom.Orient(pts[0], pts[1], pts[2], pts[3]) <= 0 {
			ps.add("tetrahedron %s is not positively oriented", h)
			continue
		}
		for _, n := range tet.Nodes {
			volume[n] += tet.Volume / 4
		}
		total += tet.Volume
		for x, p := range m.points {
			if hasNode(tet.Nodes[:], x) {
				continue
			}
			if tet.Sphere.Contains(p.Position) < 0 {
				continue
			}
			if geom.InSphere(pts[0], pts[1], pts[2], pts[3], p.Position) > 0 {
				ps.add("point %s lies inside the circumsphere of %s", x, h)
			}
		}
	}
	sum := 0.0
	for h, p := range m.points {
		sum += p.Volume
		if !closeTo(p.Volume, volume[h], total) {
			ps.add("point %s volume %g, its tetrahedra give %g", h, p.Volume, volume[h])
		}
	}
	if !closeTo(sum, total, total) {
		ps.add("point volumes sum to %g, mesh volume is %g", sum, total)
	}
	for h, e := range m.edges {
		if !closeTo(e.CrossSection, sections[h], math.Abs(sections[h])) {
			ps.add("edge %s cross section %g, its tetrahedra give %g", h, e.CrossSection, sections[h])
		}
	}
}

func closeTo(a, b, scale float64) bool {
	return math.Abs(a-b) <= 1e-7*math.Max(1, scale)
}
