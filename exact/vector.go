// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package exact

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Vector is a 3-vector of rationals.
type Vector struct {
	X, Y, Z Rational
}

// FromVec converts a floating point vector without rounding.
func FromVec(v r3.Vec) Vector {
	return Vector{X: FromFloat(v.X), Y: FromFloat(v.Y), Z: FromFloat(v.Z)}
}

// Vec rounds v to the nearest floating point vector.
func (v Vector) Vec() r3.Vec {
	return r3.Vec{X: v.X.Float64(), Y: v.Y.Float64(), Z: v.Z.Float64()}
}

func (v Vector) Add(w Vector) Vector {
	return Vector{X: v.X.Add(w.X), Y: v.Y.Add(w.Y), Z: v.Z.Add(w.Z)}
}

func (v Vector) Sub(w Vector) Vector {
	return Vector{X: v.X.Sub(w.X), Y: v.Y.Sub(w.Y), Z: v.Z.Sub(w.Z)}
}

// Scale returns s*v.
func (v Vector) Scale(s Rational) Vector {
	return Vector{X: v.X.Mul(s), Y: v.Y.Mul(s), Z: v.Z.Mul(s)}
}

func (v Vector) Dot(w Vector) Rational {
	return v.X.Mul(w.X).Add(v.Y.Mul(w.Y)).Add(v.Z.Mul(w.Z))
}

func (v Vector) Cross(w Vector) Vector {
	return Vector{
		X: v.Y.Mul(w.Z).Sub(v.Z.Mul(w.Y)),
		Y: v.Z.Mul(w.X).Sub(v.X.Mul(w.Z)),
		Z: v.X.Mul(w.Y).Sub(v.Y.Mul(w.X)),
	}
}

// SquaredLength returns v·v.
func (v Vector) SquaredLength() Rational { return v.Dot(v) }

// Equal reports whether v and w are the same point.
func (v Vector) Equal(w Vector) bool {
	return v.X.Cmp(w.X) == 0 && v.Y.Cmp(w.Y) == 0 && v.Z.Cmp(w.Z) == 0
}
