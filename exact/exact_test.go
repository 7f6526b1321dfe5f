// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package exact_test

import (
	"testing"

	"github.com/featurebasedb/tetra/exact"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestRational(t *testing.T) {
	a := exact.NewRational(1, 3)
	b := exact.NewRational(1, 6)
	require.Equal(t, "1/2", a.Add(b).String())
	require.Equal(t, "1/6", a.Sub(b).String())
	require.Equal(t, "1/18", a.Mul(b).String())
	require.Equal(t, "2/1", a.Quo(b).String())
	require.Equal(t, -1, a.Neg().Sign())
	require.Equal(t, 1, a.Cmp(b))

	var zero exact.Rational
	require.True(t, zero.IsZero())
	require.Equal(t, "1/3", zero.Add(a).String())

	// 0.1 is not representable; the exact value must survive a round trip.
	f := exact.FromFloat(0.1)
	require.Equal(t, 0.1, f.Float64())
	require.NotEqual(t, 0, f.Cmp(exact.NewRational(1, 10)))
}

func TestVector(t *testing.T) {
	x := exact.FromVec(r3.Vec{X: 1})
	y := exact.FromVec(r3.Vec{Y: 1})
	require.True(t, x.Cross(y).Equal(exact.FromVec(r3.Vec{Z: 1})))
	require.True(t, x.Dot(y).IsZero())
	require.Equal(t, "2/1", x.Add(y).SquaredLength().String())
	require.Equal(t, r3.Vec{X: 1, Y: -1}, x.Sub(y).Vec())
	require.Equal(t, "1/1", exact.Det3(x, y, exact.FromVec(r3.Vec{Z: 1})).String())
}

func TestOrient(t *testing.T) {
	a, b, c := r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1}
	require.Equal(t, 1, exact.Orient(a, b, c, r3.Vec{Z: 1}))
	require.Equal(t, -1, exact.Orient(a, b, c, r3.Vec{Z: -1}))
	require.Equal(t, 0, exact.Orient(a, b, c, r3.Vec{X: 0.3, Y: 0.7}))

	// A point a hair above the plane is still resolved.
	require.Equal(t, 1, exact.Orient(a, b, c, r3.Vec{X: 1e6, Y: 1e6, Z: 1e-300}))
}

func TestInSphere(t *testing.T) {
	a, b, c, d := r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1}, r3.Vec{Z: 1}
	require.Equal(t, 1, exact.InSphere(a, b, c, d, r3.Vec{X: 0.25, Y: 0.25, Z: 0.25}))
	require.Equal(t, -1, exact.InSphere(a, b, c, d, r3.Vec{X: 2, Y: 2, Z: 2}))
	require.Equal(t, 0, exact.InSphere(a, b, c, d, r3.Vec{X: 1, Y: 1, Z: 1}))
	// Swapping two corners flips the sign.
	require.Equal(t, -1, exact.InSphere(b, a, c, d, r3.Vec{X: 0.25, Y: 0.25, Z: 0.25}))
}

func TestInCircle(t *testing.T) {
	a, b, c := r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1}
	require.Equal(t, 1, exact.InCircle(a, b, c, r3.Vec{X: 0.25, Y: 0.25}))
	require.Equal(t, 1, exact.InCircle(a, c, b, r3.Vec{X: 0.25, Y: 0.25}))
	require.Equal(t, -1, exact.InCircle(a, b, c, r3.Vec{X: 2, Y: 2}))
	require.Equal(t, 0, exact.InCircle(a, b, c, r3.Vec{X: 1, Y: 1}))
	require.Equal(t, 0, exact.InCircle(a, b, r3.Vec{X: 2}, r3.Vec{X: 5, Y: 5}))
}

func TestCircumCenter(t *testing.T) {
	ctr, ok := exact.CircumCenter(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1}, r3.Vec{Z: 1})
	require.True(t, ok)
	require.Equal(t, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, ctr.Vec())

	_, ok = exact.CircumCenter(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1}, r3.Vec{X: 1, Y: 1})
	require.False(t, ok)
}
