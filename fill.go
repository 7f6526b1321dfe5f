// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// region is a set of locked tetrahedra about to be re-triangulated.
type region struct {
	order []Handle
	in    map[Handle]bool
}

func newRegion() *region {
	return &region{in: make(map[Handle]bool)}
}

func (r *region) add(h Handle) {
	if !r.in[h] {
		r.in[h] = true
		r.order = append(r.order, h)
	}
}

// wall is a face separating the region from a tetrahedron that stays.
type wall struct {
	key   triple
	inner Handle // apex of the region tetrahedron behind the face
	outer Handle
}

func (t *Txn) walls(r *region) ([]wall, error) {
	var out []wall
	for _, h := range r.order {
		tet, err := t.tet(h)
		if err != nil {
			return nil, err
		}
		for i := 0; i < 4; i++ {
			nh, err := t.neighbor(tet, i)
			if err != nil {
				return nil, err
			}
			if r.in[nh] {
				continue
			}
			out = append(out, wall{key: faceTriple(tet.Nodes, i), inner: tet.Nodes[i], outer: nh})
		}
	}
	return out, nil
}

// retriangulate replaces the tetrahedra of r by the Delaunay
// tetrahedralization of their vertices, less exclude, with positions in
// moved overriding the current ones. The region grows by a ring of
// neighbors whenever the local tetrahedralization does not fit its walls.
// It fails with ErrDegenerate if even the whole mesh cannot be filled.
func (t *Txn) retriangulate(r *region, exclude Handle, moved map[Handle]r3.Vec) error {
	for {
		walls, err := t.walls(r)
		if err != nil {
			return err
		}
		pos := make(map[Handle]r3.Vec)
		for _, h := range r.order {
			for _, n := range t.tets[h].Nodes {
				if n.IsNone() || n == exclude {
					continue
				}
				if q, ok := moved[n]; ok {
					pos[n] = q
					continue
				}
				q, err := t.position(n)
				if err != nil {
					return err
				}
				pos[n] = q
			}
		}
		local, err := buildLocal(pos)
		if err != nil && !errors.Is(err, errors.ErrDegenerate) {
			return err
		}
		if err == nil {
			fill, ok, err := t.matchFill(local, walls)
			if err != nil {
				return err
			}
			if ok {
				return t.replaceRegion(r, local, fill, moved)
			}
		}
		if len(walls) == 0 {
			return errors.Newf(errors.ErrDegenerate, "cannot fill %d tetrahedra", len(r.order))
		}
		for _, w := range walls {
			if _, err := t.tet(w.outer); err != nil {
				return err
			}
			r.add(w.outer)
		}
	}
}

// matchFill selects the local tetrahedra lying inside the region's walls.
// Seeds are taken across finite walls on the same side as the region,
// then grown across faces that are not walls. The fill fits when its
// boundary is exactly the set of walls.
func (t *Txn) matchFill(local *localMesh, walls []wall) ([]int, bool, error) {
	wallKeys := make(map[triple]bool, len(walls))
	for _, w := range walls {
		wallKeys[w.key] = true
	}
	if len(wallKeys) != len(walls) {
		return nil, false, nil
	}
	if len(walls) == 0 {
		return local.live(), true, nil
	}

	in := make(map[int]bool)
	var queue []int
	for _, w := range walls {
		if w.key[0].IsNone() {
			continue
		}
		cands := local.faces[w.key]
		if len(cands) == 0 {
			return nil, false, nil
		}
		a, b, c := local.pos[w.key[0]], local.pos[w.key[1]], local.pos[w.key[2]]
		side, err := t.wallSide(w, a, b, c)
		if err != nil {
			return nil, false, err
		}
		seed := -1
		for _, i := range cands {
			apex := localApex(local.tets[i], w.key)
			if apex.IsNone() {
				continue
			}
			s := geom.Orient(a, b, c, local.pos[apex])
			if s == side {
				seed = i
			} else if len(cands) == 2 {
				seed = cands[0] + cands[1] - i
			}
			break
		}
		if seed < 0 {
			return nil, false, nil
		}
		if !in[seed] {
			in[seed] = true
			queue = append(queue, seed)
		}
	}
	if len(queue) == 0 {
		return nil, false, nil
	}
	for q := 0; q < len(queue); q++ {
		i := queue[q]
		for f := 0; f < 4; f++ {
			if wallKeys[faceTriple(local.tets[i], f)] {
				continue
			}
			j := local.neighbor(i, f)
			if j < 0 {
				return nil, false, nil
			}
			if !in[j] {
				in[j] = true
				queue = append(queue, j)
			}
		}
	}
	seen := make(map[triple]bool, len(walls))
	for _, i := range queue {
		for f := 0; f < 4; f++ {
			k := faceTriple(local.tets[i], f)
			if !wallKeys[k] {
				continue
			}
			if seen[k] {
				return nil, false, nil
			}
			seen[k] = true
		}
	}
	return queue, len(seen) == len(wallKeys), nil
}

// wallSide returns the side of the wall's plane the region lies on.
func (t *Txn) wallSide(w wall, a, b, c r3.Vec) (int, error) {
	if !w.inner.IsNone() {
		x, err := t.position(w.inner)
		if err != nil {
			return 0, err
		}
		return geom.Orient(a, b, c, x), nil
	}
	nodes, err := t.peekNodes(w.outer)
	if err != nil {
		return 0, err
	}
	y, err := t.position(localApex(nodes, w.key))
	if err != nil {
		return 0, err
	}
	return -geom.Orient(a, b, c, y), nil
}

func localApex(nodes [4]Handle, key triple) Handle {
	for _, n := range nodes {
		if !hasNode(key[:], n) {
			return n
		}
	}
	return None
}

// replaceRegion swaps the region's tetrahedra for the chosen local ones.
func (t *Txn) replaceRegion(r *region, local *localMesh, fill []int, moved map[Handle]r3.Vec) error {
	f := newHoleFiller()
	for _, h := range r.order {
		if err := t.deleteTetrahedron(f, h); err != nil {
			return err
		}
	}
	for h, q := range moved {
		p, err := t.point(h)
		if err != nil {
			return err
		}
		p.Position = q
	}
	for _, i := range fill {
		if _, err := t.createTetrahedron(f, local.tets[i]); err != nil {
			return err
		}
	}
	return f.Close(t)
}
