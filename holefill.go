// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"github.com/featurebasedb/tetra/errors"
)

// holeFiller pairs up the faces of tetrahedra created inside a cavity with
// the triangles left open by the tetrahedra deleted from it. A node set
// may have two open triangles at once while a flat pair is being undone.
type holeFiller struct {
	open    map[triple][]Handle
	tracked []Handle
	seen    map[Handle]bool
}

func newHoleFiller() *holeFiller {
	return &holeFiller{
		open: make(map[triple][]Handle),
		seen: make(map[Handle]bool),
	}
}

// track registers a triangle that lost a tetrahedron.
func (f *holeFiller) track(tri *Triangle) {
	if !f.seen[tri.Handle] {
		f.seen[tri.Handle] = true
		f.tracked = append(f.tracked, tri.Handle)
	}
	if tri.degree() == 2 {
		return
	}
	key := makeTriple(tri.Nodes[0], tri.Nodes[1], tri.Nodes[2])
	for _, h := range f.open[key] {
		if h == tri.Handle {
			return
		}
	}
	f.open[key] = append(f.open[key], tri.Handle)
}

func (f *holeFiller) close(key triple, h Handle) {
	list := f.open[key]
	for i, o := range list {
		if o == h {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(f.open, key)
	} else {
		f.open[key] = list
	}
}

// attach returns the triangle that face key of tet should use: an open
// one, preferring those still attached on their other side, or a new one.
func (f *holeFiller) attach(t *Txn, key triple, tet Handle) (*Triangle, error) {
	var pick *Triangle
	for _, h := range f.open[key] {
		tri, err := t.triangle(h)
		if err != nil {
			return nil, err
		}
		if pick == nil || tri.degree() > pick.degree() {
			pick = tri
		}
	}
	if pick == nil {
		h, err := t.newHandle(t.ownerOf(key[:]), kindTriangle)
		if err != nil {
			return nil, err
		}
		pick = &Triangle{Handle: h, Nodes: key, valid: true}
		t.triangles[h] = pick
		f.seen[h] = true
		f.tracked = append(f.tracked, h)
		f.open[key] = append(f.open[key], h)
	}
	pick.valid = true
	pick.attach(tet)
	if pick.degree() == 2 {
		f.close(key, pick.Handle)
	}
	return pick, nil
}

// glue merges two open triangles on the same node set, each attached to
// one surviving tetrahedron, into one.
func (f *holeFiller) glue(t *Txn) error {
	for key, list := range f.open {
		var half []*Triangle
		for _, h := range list {
			tri, err := t.triangle(h)
			if err != nil {
				return err
			}
			if tri.degree() == 1 {
				half = append(half, tri)
			}
		}
		if len(half) != 2 {
			continue
		}
		keep, drop := half[0], half[1]
		other := drop.Tetrahedra[0]
		if other.IsNone() {
			other = drop.Tetrahedra[1]
		}
		tet, err := t.tet(other)
		if err != nil {
			return err
		}
		i := tet.FaceIndex(drop.Handle)
		if i < 0 {
			return errors.Newf(errors.ErrInvariant, "tetrahedron %s does not use triangle %s", other, drop.Handle)
		}
		tet.Triangles[i] = keep.Handle
		drop.detach(other)
		keep.attach(other)
		f.close(key, keep.Handle)
	}
	return nil
}

// Close checks that every triangle touched is shared by two tetrahedra or
// by none, and deletes the latter.
func (f *holeFiller) Close(t *Txn) error {
	for _, h := range f.tracked {
		tri, err := t.triangle(h)
		if err != nil {
			return err
		}
		switch tri.degree() {
		case 0:
			tri.valid = false
		case 1:
			return errors.Newf(errors.ErrInvariant, "triangle %s %v left open", h, tri.Nodes)
		}
	}
	f.open = make(map[triple][]Handle)
	return nil
}
