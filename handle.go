// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package tetra maintains a live Delaunay tetrahedralization of a set of
// moving points, distributed over in-process partitions that own disjoint
// slices of the mesh and coordinate through handles, a lock table and
// optimistic transactions.
package tetra

import (
	"fmt"
	"sort"
)

// Handle identifies a point, edge, triangle or tetrahedron without carrying
// any of its data. Addresses are unique across all partitions because each
// partition allocates from its own range. The zero Handle is None, which
// also stands for the point at infinity in node slots.
type Handle struct {
	Addr uint64
	Part int
}

// None is the empty handle.
var None = Handle{}

// IsNone reports whether h is the empty handle.
func (h Handle) IsNone() bool { return h.Addr == 0 }

func (h Handle) String() string {
	if h.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%d@%d", h.Addr, h.Part)
}

// Less orders handles by address, so None sorts first.
func (h Handle) Less(o Handle) bool { return h.Addr < o.Addr }

// triple is a triangle's node set in canonical order.
type triple [3]Handle

func makeTriple(a, b, c Handle) triple {
	t := triple{a, b, c}
	sort.Slice(t[:], func(i, j int) bool { return t[i].Less(t[j]) })
	return t
}

// pair is an edge's node set in canonical order.
type pair [2]Handle

func makePair(a, b Handle) pair {
	if b.Less(a) {
		return pair{b, a}
	}
	return pair{a, b}
}

// faceTriple returns the nodes of face i of a tetrahedron, the face
// opposite nodes[i], in canonical order.
func faceTriple(nodes [4]Handle, i int) triple {
	var t [3]Handle
	n := 0
	for k := 0; k < 4; k++ {
		if k != i {
			t[n] = nodes[k]
			n++
		}
	}
	return makeTriple(t[0], t[1], t[2])
}

// hasNode reports whether h is one of nodes.
func hasNode(nodes []Handle, h Handle) bool {
	for _, n := range nodes {
		if n == h {
			return true
		}
	}
	return false
}

// indexOf returns the index of h in nodes or -1.
func indexOf(nodes [4]Handle, h Handle) int {
	for i, n := range nodes {
		if n == h {
			return i
		}
	}
	return -1
}

// normalize moves None to index 0 with an even permutation, preserving
// orientation.
func normalize(nodes [4]Handle) [4]Handle {
	k := indexOf(nodes, None)
	if k <= 0 {
		return nodes
	}
	nodes[0], nodes[k] = nodes[k], nodes[0]
	var rest []int
	for i := 1; i < 4; i++ {
		if i != k {
			rest = append(rest, i)
		}
	}
	nodes[rest[0]], nodes[rest[1]] = nodes[rest[1]], nodes[rest[0]]
	return nodes
}
