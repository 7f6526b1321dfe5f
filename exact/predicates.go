// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package exact

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Det3 returns the determinant of the matrix with rows a, b and c.
func Det3(a, b, c Vector) Rational {
	return a.Dot(b.Cross(c))
}

// Orient returns the sign of det[b-a; c-a; d-a]. It is positive when d lies
// on the side of plane abc that (b-a)x(c-a) points to.
func Orient(a, b, c, d r3.Vec) int {
	ea := FromVec(a)
	return Det3(FromVec(b).Sub(ea), FromVec(c).Sub(ea), FromVec(d).Sub(ea)).Sign()
}

// InSphere returns +1 when e lies strictly inside the sphere through a, b,
// c and d, -1 when it lies strictly outside, and 0 when the five points are
// cospherical. The result assumes Orient(a,b,c,d) > 0 and is negated
// otherwise.
func InSphere(a, b, c, d, e r3.Vec) int {
	ee := FromVec(e)
	rows := [4]Vector{
		FromVec(a).Sub(ee),
		FromVec(b).Sub(ee),
		FromVec(c).Sub(ee),
		FromVec(d).Sub(ee),
	}
	return -liftedDet(rows).Sign()
}

// InCircle reports the position of p, assumed coplanar with a, b and c,
// relative to the circumcircle of triangle abc: +1 inside, -1 outside, 0 on
// the circle. The triangle must not be degenerate.
func InCircle(a, b, c, p r3.Vec) int {
	ea, eb, ec := FromVec(a), FromVec(b), FromVec(c)
	n := eb.Sub(ea).Cross(ec.Sub(ea))
	if n.SquaredLength().IsZero() {
		return 0
	}
	// Lifting a along the normal gives a positive tetrahedron whose
	// circumsphere cuts the plane in the circumcircle of abc.
	top := ea.Add(n)
	pe := FromVec(p)
	rows := [4]Vector{ea.Sub(pe), eb.Sub(pe), ec.Sub(pe), top.Sub(pe)}
	return -liftedDet(rows).Sign()
}

// CircumCenter returns the exact center of the sphere through a, b, c and d
// and false if the four points are coplanar.
func CircumCenter(a, b, c, d r3.Vec) (Vector, bool) {
	ea := FromVec(a)
	u := FromVec(b).Sub(ea)
	v := FromVec(c).Sub(ea)
	w := FromVec(d).Sub(ea)
	den := Det3(u, v, w)
	if den.IsZero() {
		return Vector{}, false
	}
	num := v.Cross(w).Scale(u.SquaredLength()).
		Add(w.Cross(u).Scale(v.SquaredLength())).
		Add(u.Cross(v).Scale(w.SquaredLength()))
	return ea.Add(num.Scale(NewRational(1, 2).Quo(den))), true
}

// liftedDet returns the determinant of the 4x4 matrix whose rows are the
// given vectors extended by their squared lengths.
func liftedDet(rows [4]Vector) Rational {
	var lift [4]Rational
	for i := range rows {
		lift[i] = rows[i].SquaredLength()
	}
	// Expand along the lifted column.
	return lift[1].Mul(Det3(rows[0], rows[2], rows[3])).
		Add(lift[3].Mul(Det3(rows[0], rows[1], rows[2]))).
		Sub(lift[0].Mul(Det3(rows[1], rows[2], rows[3]))).
		Sub(lift[2].Mul(Det3(rows[0], rows[1], rows[3])))
}
