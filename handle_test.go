// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandle(t *testing.T) {
	require.True(t, None.IsNone())
	require.Equal(t, "none", None.String())
	h := Handle{Addr: 12, Part: 3}
	require.Equal(t, "12@3", h.String())
	require.True(t, None.Less(h))

	a, b, c := Handle{Addr: 3}, Handle{Addr: 1}, Handle{Addr: 2}
	require.Equal(t, triple{b, c, a}, makeTriple(a, b, c))
	require.Equal(t, pair{b, a}, makePair(a, b))
	require.Equal(t, triple{b, c, a}, faceTriple([4]Handle{{Addr: 4}, a, b, c}, 0))
}

// parity counts the transpositions sorting nodes by address.
func parity(nodes [4]Handle) int {
	n := 0
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if nodes[j].Less(nodes[i]) {
				n++
			}
		}
	}
	return n % 2
}

func TestNormalize(t *testing.T) {
	a, b, c := Handle{Addr: 1}, Handle{Addr: 2}, Handle{Addr: 3}
	for _, nodes := range [][4]Handle{
		{None, a, b, c},
		{a, None, b, c},
		{a, b, None, c},
		{a, b, c, None},
	} {
		got := normalize(nodes)
		require.True(t, got[0].IsNone(), "%v", got)
		require.Equal(t, parity(nodes), parity(got), "%v -> %v", nodes, got)
	}
	finite := [4]Handle{c, a, b, {Addr: 4}}
	require.Equal(t, finite, normalize(finite))
}
