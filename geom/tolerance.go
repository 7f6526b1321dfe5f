// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package geom holds the floating point geometry of the triangulation:
// tolerance-banded predicates backed by exact arithmetic, symbolic
// perturbation, and the per-tetrahedron measures (circumsphere, volume,
// cross sections).
package geom

import (
	"sync/atomic"
)

// Tolerance holds the constants of the floating point error bounds. The
// predicate bounds are permanent*Epsilon*Factor; Sphere and Plane are
// relative tolerances for cached circumspheres and plane equations.
type Tolerance struct {
	Epsilon        float64 `toml:"epsilon"`
	OrientFactor   float64 `toml:"orient-factor"`
	InSphereFactor float64 `toml:"insphere-factor"`
	Sphere         float64 `toml:"sphere"`
	Plane          float64 `toml:"plane"`
}

// DefaultTolerance is conservative with respect to the bounds derived for
// the orientation and in-sphere determinants.
var DefaultTolerance = Tolerance{
	Epsilon:        1e-15,
	OrientFactor:   8,
	InSphereFactor: 16,
	Sphere:         1e-7,
	Plane:          1e-9,
}

var current atomic.Value

func init() {
	current.Store(DefaultTolerance)
}

// SetTolerance replaces the tolerance used by every predicate. Zero fields
// keep their default.
func SetTolerance(t Tolerance) {
	d := DefaultTolerance
	if t.Epsilon > 0 {
		d.Epsilon = t.Epsilon
	}
	if t.OrientFactor > 0 {
		d.OrientFactor = t.OrientFactor
	}
	if t.InSphereFactor > 0 {
		d.InSphereFactor = t.InSphereFactor
	}
	if t.Sphere > 0 {
		d.Sphere = t.Sphere
	}
	if t.Plane > 0 {
		d.Plane = t.Plane
	}
	current.Store(d)
}

// CurrentTolerance returns the tolerance in effect.
func CurrentTolerance() Tolerance {
	return current.Load().(Tolerance)
}

var exactFallbacks uint64

// ExactFallbacks returns how many predicate evaluations needed exact
// arithmetic since process start.
func ExactFallbacks() uint64 {
	return atomic.LoadUint64(&exactFallbacks)
}
