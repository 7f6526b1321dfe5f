// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra_test

import (
	"math/rand"
	"testing"

	"github.com/featurebasedb/tetra"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestSlabPolicy(t *testing.T) {
	p := tetra.SlabPolicy{Axis: 1, Width: 10, N: 3}
	for _, tc := range []struct {
		y    float64
		want int
	}{
		{0, 0}, {9.9, 0}, {10, 1}, {25, 2}, {30, 0}, {-0.1, 2}, {-10.5, 1},
	} {
		require.Equal(t, tc.want, p.Assign(r3.Vec{X: 99, Y: tc.y}), "y=%v", tc.y)
	}
	require.Equal(t, 0, tetra.SlabPolicy{Width: 1, N: 1}.Assign(r3.Vec{X: 5}))
}

func TestGridPolicy(t *testing.T) {
	p := tetra.GridPolicy{Cell: 2, N: 4}
	rnd := rand.New(rand.NewSource(3))
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		pos := r3.Vec{X: rnd.Float64() * 100, Y: rnd.Float64() * 100, Z: rnd.Float64() * 100}
		got := p.Assign(pos)
		require.True(t, got >= 0 && got < 4)
		seen[got] = true
		// Points in one cell share a partition.
		cell := r3.Vec{X: float64(int(pos.X/2))*2 + 1, Y: float64(int(pos.Y/2))*2 + 1, Z: float64(int(pos.Z/2))*2 + 1}
		require.Equal(t, got, p.Assign(cell))
	}
	require.Len(t, seen, 4)
}

func TestNewPolicy(t *testing.T) {
	p, err := tetra.NewPolicy("slab", 2, 5, 3)
	require.NoError(t, err)
	require.Equal(t, tetra.SlabPolicy{Axis: 2, Width: 5, N: 3}, p)

	p, err = tetra.NewPolicy("grid", 0, 5, 3)
	require.NoError(t, err)
	require.Equal(t, tetra.GridPolicy{Cell: 5, N: 3}, p)

	_, err = tetra.NewPolicy("slab", 3, 5, 3)
	require.Error(t, err)
	_, err = tetra.NewPolicy("slab", 0, 0, 3)
	require.Error(t, err)
	_, err = tetra.NewPolicy("voronoi", 0, 1, 3)
	require.Error(t, err)
}
