// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash"
	"github.com/featurebasedb/tetra/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// Policy decides which partition owns a new point.
type Policy interface {
	Assign(pos r3.Vec) int
}

// SlabPolicy cuts space into slabs of Width along Axis (0, 1 or 2) and
// deals them out to N partitions in turn.
type SlabPolicy struct {
	Axis  int
	Width float64
	N     int
}

func (p SlabPolicy) Assign(pos r3.Vec) int {
	if p.N <= 1 {
		return 0
	}
	var x float64
	switch p.Axis {
	case 1:
		x = pos.Y
	case 2:
		x = pos.Z
	default:
		x = pos.X
	}
	slab := int64(math.Floor(x / p.Width))
	i := slab % int64(p.N)
	if i < 0 {
		i += int64(p.N)
	}
	return int(i)
}

// GridPolicy hashes cubic cells of side Cell onto N partitions.
type GridPolicy struct {
	Cell float64
	N    int
}

func (p GridPolicy) Assign(pos r3.Vec) int {
	if p.N <= 1 {
		return 0
	}
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(int64(math.Floor(pos.X/p.Cell))))
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(math.Floor(pos.Y/p.Cell))))
	binary.LittleEndian.PutUint64(buf[16:], uint64(int64(math.Floor(pos.Z/p.Cell))))
	return int(xxhash.Sum64(buf[:]) % uint64(p.N))
}

// NewPolicy builds a policy by name: "slab" or "grid".
func NewPolicy(kind string, axis int, width float64, n int) (Policy, error) {
	if width <= 0 || math.IsNaN(width) || math.IsInf(width, 0) {
		return nil, errors.Errorf("policy width must be positive, got %v", width)
	}
	switch kind {
	case "", "slab":
		if axis < 0 || axis > 2 {
			return nil, errors.Errorf("slab axis must be 0, 1 or 2, got %d", axis)
		}
		return SlabPolicy{Axis: axis, Width: width, N: n}, nil
	case "grid":
		return GridPolicy{Cell: width, N: n}, nil
	}
	return nil, errors.Errorf("unknown policy %q", kind)
}
