// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/geom"
	"gonum.org/v1/gonum/spatial/r3"
	"golang.org/x/exp/slices"
)

// localMesh is a private Delaunay tetrahedralization of a small point set,
// ghosts included, built by plain incremental insertion. It is used to
// fill cavities and to materialize the first tetrahedra. Ties are broken
// by the same address ranking as the shared mesh, so both agree.
type localMesh struct {
	pos   map[Handle]r3.Vec
	tets  [][4]Handle
	alive []bool
	faces map[triple][]int
}

// buildLocal triangulates the given points. It fails with ErrDegenerate
// when they are fewer than four or coplanar.
func buildLocal(pos map[Handle]r3.Vec) (*localMesh, error) {
	m := &localMesh{pos: pos, faces: make(map[triple][]int)}
	hs := make([]Handle, 0, len(pos))
	for h := range pos {
		hs = append(hs, h)
	}
	slices.SortFunc(hs, func(a, b Handle) bool { return a.Less(b) })

	first, ok := m.startingTetrahedron(hs)
	if !ok {
		return nil, errors.Newf(errors.ErrDegenerate, "%d points span no volume", len(hs))
	}
	m.add(first)
	for i := range first {
		g := first
		g[i] = None
		// An odd swap flips the face outward before None moves to front.
		o := [3]int{}
		n := 0
		for k := 0; k < 4; k++ {
			if k != i {
				o[n] = k
				n++
			}
		}
		g[o[0]], g[o[1]] = g[o[1]], g[o[0]]
		m.add(normalize(g))
	}
	for _, h := range hs {
		if hasNode(first[:], h) {
			continue
		}
		if err := m.insert(h); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// startingTetrahedron picks four points spanning volume, positively
// oriented.
func (m *localMesh) startingTetrahedron(hs []Handle) ([4]Handle, bool) {
	var t [4]Handle
	if len(hs) < 4 {
		return t, false
	}
	t[0], t[1] = hs[0], hs[1]
	i := 2
	for ; i < len(hs); i++ {
		if !geom.Collinear(m.pos[t[0]], m.pos[t[1]], m.pos[hs[i]]) {
			t[2] = hs[i]
			break
		}
	}
	if t[2].IsNone() {
		return t, false
	}
	for k := i + 1; k < len(hs); k++ {
		switch geom.Orient(m.pos[t[0]], m.pos[t[1]], m.pos[t[2]], m.pos[hs[k]]) {
		case 1:
			t[3] = hs[k]
			return t, true
		case -1:
			t[3] = hs[k]
			t[1], t[2] = t[2], t[1]
			return t, true
		}
	}
	return t, false
}

func (m *localMesh) add(nodes [4]Handle) int {
	i := len(m.tets)
	m.tets = append(m.tets, nodes)
	m.alive = append(m.alive, true)
	for f := range nodes {
		k := faceTriple(nodes, f)
		m.faces[k] = append(m.faces[k], i)
	}
	return i
}

func (m *localMesh) kill(i int) {
	m.alive[i] = false
	for f := range m.tets[i] {
		k := faceTriple(m.tets[i], f)
		list := m.faces[k]
		if j := slices.Index(list, i); j >= 0 {
			list = slices.Delete(list, j, j+1)
		}
		if len(list) == 0 {
			delete(m.faces, k)
		} else {
			m.faces[k] = list
		}
	}
}

// neighbor returns the tetrahedron across face f of tetrahedron i, or -1.
func (m *localMesh) neighbor(i, f int) int {
	for _, j := range m.faces[faceTriple(m.tets[i], f)] {
		if j != i {
			return j
		}
	}
	return -1
}

// conflicts reports whether h lies in the circumsphere of tetrahedron i,
// or beyond the hull facet of a ghost.
func (m *localMesh) conflicts(i int, h Handle) bool {
	nodes := m.tets[i]
	q := m.pos[h]
	if nodes[0].IsNone() {
		switch geom.Orient(q, m.pos[nodes[1]], m.pos[nodes[2]], m.pos[nodes[3]]) {
		case 1:
			return true
		case -1:
			return false
		}
		j := m.neighbor(i, 0)
		return j >= 0 && m.conflicts(j, h)
	}
	var pts [5]r3.Vec
	var ranks [5]uint64
	for k, n := range nodes {
		pts[k], ranks[k] = m.pos[n], n.Addr
	}
	pts[4], ranks[4] = q, h.Addr
	return geom.InSpherePerturbed(pts, ranks) > 0
}

func (m *localMesh) insert(h Handle) error {
	var cavity []int
	in := make(map[int]bool)
	for i := range m.tets {
		if m.alive[i] && m.conflicts(i, h) {
			cavity = append(cavity, i)
			in[i] = true
		}
	}
	if len(cavity) == 0 {
		return errors.Newf(errors.ErrInvariant, "point %s conflicts with nothing", h)
	}
	var star [][4]Handle
	for _, i := range cavity {
		for f := 0; f < 4; f++ {
			if j := m.neighbor(i, f); j >= 0 && in[j] {
				continue
			}
			nodes := m.tets[i]
			nodes[f] = h
			star = append(star, nodes)
		}
	}
	for _, i := range cavity {
		m.kill(i)
	}
	for _, nodes := range star {
		m.add(nodes)
	}
	return nil
}

// live lists the indexes of the current tetrahedra.
func (m *localMesh) live() []int {
	var out []int
	for i, ok := range m.alive {
		if ok {
			out = append(out, i)
		}
	}
	return out
}
