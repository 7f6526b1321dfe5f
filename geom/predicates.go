// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package geom

import (
	"math"
	"sort"
	"sync/atomic"

	"github.com/featurebasedb/tetra/exact"
	"gonum.org/v1/gonum/spatial/r3"
)

// Result is the outcome of a floating point predicate.
type Result int8

const (
	Negative      Result = -1
	RequiresExact Result = 0
	Positive      Result = 1
)

func (r Result) String() string {
	switch r {
	case Negative:
		return "negative"
	case Positive:
		return "positive"
	default:
		return "requires-exact"
	}
}

func classify(det, bound float64) Result {
	switch {
	case det > bound:
		return Positive
	case det < -bound:
		return Negative
	default:
		return RequiresExact
	}
}

// det3 returns the triple product u·(v×w) and its permanent, the same
// expansion with every term replaced by its absolute value.
func det3(u, v, w r3.Vec) (det, perm float64) {
	c0 := v.Y*w.Z - v.Z*w.Y
	c1 := v.Z*w.X - v.X*w.Z
	c2 := v.X*w.Y - v.Y*w.X
	p0 := math.Abs(v.Y*w.Z) + math.Abs(v.Z*w.Y)
	p1 := math.Abs(v.Z*w.X) + math.Abs(v.X*w.Z)
	p2 := math.Abs(v.X*w.Y) + math.Abs(v.Y*w.X)
	det = u.X*c0 + u.Y*c1 + u.Z*c2
	perm = math.Abs(u.X)*p0 + math.Abs(u.Y)*p1 + math.Abs(u.Z)*p2
	return det, perm
}

// OrientFast evaluates det[b-a; c-a; d-a] in floating point and reports
// RequiresExact when the value lies inside its error bound.
func OrientFast(a, b, c, d r3.Vec) Result {
	det, perm := det3(r3.Sub(b, a), r3.Sub(c, a), r3.Sub(d, a))
	t := CurrentTolerance()
	return classify(det, perm*t.Epsilon*t.OrientFactor)
}

// Orient returns the sign of det[b-a; c-a; d-a]: positive when d lies on
// the side of plane abc that (b-a)x(c-a) points to, zero when coplanar.
func Orient(a, b, c, d r3.Vec) int {
	if r := OrientFast(a, b, c, d); r != RequiresExact {
		return int(r)
	}
	atomic.AddUint64(&exactFallbacks, 1)
	return exact.Orient(a, b, c, d)
}

// InSphereFast evaluates the lifted in-sphere determinant in floating
// point. Positive means e is inside the sphere through a, b, c and d when
// Orient(a,b,c,d) > 0.
func InSphereFast(a, b, c, d, e r3.Vec) Result {
	rows := [4]r3.Vec{r3.Sub(a, e), r3.Sub(b, e), r3.Sub(c, e), r3.Sub(d, e)}
	var lift [4]float64
	for i := range rows {
		lift[i] = r3.Norm2(rows[i])
	}
	d0, p0 := det3(rows[1], rows[2], rows[3])
	d1, p1 := det3(rows[0], rows[2], rows[3])
	d2, p2 := det3(rows[0], rows[1], rows[3])
	d3, p3 := det3(rows[0], rows[1], rows[2])
	det := lift[1]*d1 + lift[3]*d3 - lift[0]*d0 - lift[2]*d2
	perm := lift[0]*p0 + lift[1]*p1 + lift[2]*p2 + lift[3]*p3
	t := CurrentTolerance()
	return classify(-det, perm*t.Epsilon*t.InSphereFactor)
}

// InSphere returns +1 if e is strictly inside the circumsphere of the
// positively oriented tetrahedron abcd, -1 if strictly outside and 0 if
// cospherical.
func InSphere(a, b, c, d, e r3.Vec) int {
	if r := InSphereFast(a, b, c, d, e); r != RequiresExact {
		return int(r)
	}
	atomic.AddUint64(&exactFallbacks, 1)
	return exact.InSphere(a, b, c, d, e)
}

// InSpherePerturbed is InSphere made total: pts[0:4] is a positively
// oriented tetrahedron, pts[4] the query, and ranks their distinct
// identities. Cospherical inputs are resolved as if each point's lifted
// coordinate were raised by an infinitesimal that grows with its rank, so
// the decision is the same in every tetrahedron that sees the same five
// points and the triangulation of any point set is unique.
func InSpherePerturbed(pts [5]r3.Vec, ranks [5]uint64) int {
	if s := InSphere(pts[0], pts[1], pts[2], pts[3], pts[4]); s != 0 {
		return s
	}
	order := [5]int{0, 1, 2, 3, 4}
	sort.Slice(order[:], func(i, j int) bool { return ranks[order[i]] > ranks[order[j]] })
	for _, i := range order {
		if i == 4 {
			// Raising the query's lift moves it outside.
			return -1
		}
		// Raising corner i tilts the sphere toward the side of the
		// opposite face that i lies on.
		tet := [4]r3.Vec{pts[0], pts[1], pts[2], pts[3]}
		tet[i] = pts[4]
		if o := Orient(tet[0], tet[1], tet[2], tet[3]); o != 0 {
			return o
		}
	}
	// Only reachable when points coincide.
	return -1
}

// Collinear reports exactly whether a, b and c lie on one line.
func Collinear(a, b, c r3.Vec) bool {
	u := exact.FromVec(b).Sub(exact.FromVec(a))
	v := exact.FromVec(c).Sub(exact.FromVec(a))
	return u.Cross(v).SquaredLength().IsZero()
}
