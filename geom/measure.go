// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package geom

import (
	"math"

	"github.com/featurebasedb/tetra/exact"
	"gonum.org/v1/gonum/spatial/r3"
)

// Sphere is a cached circumsphere. Tolerance is the band around Radius2
// inside which a squared distance is too close to call in floating point.
type Sphere struct {
	Center    r3.Vec
	Radius2   float64
	Tolerance float64
}

// Contains classifies p against s: +1 inside, -1 outside, 0 inside the
// tolerance band.
func (s Sphere) Contains(p r3.Vec) int {
	d := r3.Norm2(r3.Sub(p, s.Center))
	switch {
	case d < s.Radius2-s.Tolerance:
		return 1
	case d > s.Radius2+s.Tolerance:
		return -1
	default:
		return 0
	}
}

// Circumsphere returns the sphere through a, b, c and d. ok is false when
// the points are coplanar.
func Circumsphere(a, b, c, d r3.Vec) (s Sphere, ok bool) {
	u, v, w := r3.Sub(b, a), r3.Sub(c, a), r3.Sub(d, a)
	den, perm := det3(u, v, w)
	t := CurrentTolerance()
	if math.Abs(den) <= perm*t.Epsilon*t.OrientFactor {
		ctr, ok := exact.CircumCenter(a, b, c, d)
		if !ok {
			return Sphere{}, false
		}
		s.Center = ctr.Vec()
	} else {
		num := r3.Add(r3.Add(
			r3.Scale(r3.Norm2(u), r3.Cross(v, w)),
			r3.Scale(r3.Norm2(v), r3.Cross(w, u))),
			r3.Scale(r3.Norm2(w), r3.Cross(u, v)))
		s.Center = r3.Add(a, r3.Scale(0.5/den, num))
	}
	s.Radius2 = r3.Norm2(r3.Sub(a, s.Center))
	s.Tolerance = s.Radius2 * t.Sphere
	return s, true
}

// Volume returns the signed volume of tetrahedron abcd.
func Volume(a, b, c, d r3.Vec) float64 {
	det, _ := det3(r3.Sub(b, a), r3.Sub(c, a), r3.Sub(d, a))
	return det / 6
}

// EdgePairs lists the corner pairs of a tetrahedron's six edges.
var EdgePairs = [6][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}

// CrossSections returns, for each edge of tetrahedron pts in EdgePairs
// order, the area of the dual Voronoi facet fragment the tetrahedron
// contributes to that edge, approximated by the quadrilateral spanned by
// the edge midpoint, the tetrahedron centroid and the centroids of the two
// faces sharing the edge, projected onto the edge direction.
func CrossSections(pts [4]r3.Vec) [6]float64 {
	var out [6]float64
	centroid := Centroid(pts[:]...)
	for k, p := range EdgePairs {
		i, j := p[0], p[1]
		o1, o2 := other(i, j)
		dir := r3.Sub(pts[j], pts[i])
		l := r3.Norm(dir)
		if l == 0 {
			continue
		}
		mid := r3.Scale(0.5, r3.Add(pts[i], pts[j]))
		f1 := Centroid(pts[i], pts[j], pts[o1])
		f2 := Centroid(pts[i], pts[j], pts[o2])
		area := r3.Dot(r3.Cross(r3.Sub(mid, centroid), r3.Sub(f1, f2)), dir) / l
		out[k] = math.Abs(area) / 2
	}
	return out
}

// other returns the two corner indices not in {i, j}.
func other(i, j int) (int, int) {
	var r [2]int
	n := 0
	for k := 0; k < 4; k++ {
		if k != i && k != j {
			r[n] = k
			n++
		}
	}
	return r[0], r[1]
}

// Centroid returns the mean of pts.
func Centroid(pts ...r3.Vec) r3.Vec {
	var c r3.Vec
	for _, p := range pts {
		c = r3.Add(c, p)
	}
	if len(pts) == 0 {
		return c
	}
	return r3.Scale(1/float64(len(pts)), c)
}

// Plane is the cached plane equation of a triangle: Normal·x == Offset.
// Reach is the largest corner magnitude and scales the tolerance band.
type Plane struct {
	Normal r3.Vec
	Offset float64
	Reach  float64
}

// NewPlane returns the plane through a, b and c with normal (b-a)x(c-a).
func NewPlane(a, b, c r3.Vec) Plane {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	return Plane{
		Normal: n,
		Offset: r3.Dot(n, a),
		Reach:  math.Max(math.Max(r3.Norm(a), r3.Norm(b)), r3.Norm(c)),
	}
}

// Side returns the sign of p relative to the plane through a, b and c,
// matching Orient(a, b, c, p). The cached equation decides unless p is
// within its tolerance, in which case the exact predicate does.
func (pl Plane) Side(a, b, c, p r3.Vec) int {
	d := r3.Dot(pl.Normal, p) - pl.Offset
	tol := r3.Norm(pl.Normal) * math.Max(pl.Reach, r3.Norm(p)) * CurrentTolerance().Plane
	switch {
	case d > tol:
		return 1
	case d < -tol:
		return -1
	}
	return Orient(a, b, c, p)
}
