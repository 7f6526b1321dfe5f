// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"testing"

	"github.com/featurebasedb/tetra/errors"
	"github.com/stretchr/testify/require"
)

func newTestTxn(t *testing.T, s *Space, kind opKind, target Handle) *Txn {
	t.Helper()
	txn := newTxn(s, kind, target)
	txn.home = s.partition(target)
	id, err := txn.home.uniqueAddress()
	require.NoError(t, err)
	txn.id = id.Addr
	txn.reset()
	return txn
}

func finiteTet(t *testing.T, s *Space) *Tetrahedron {
	t.Helper()
	for _, tet := range s.snapshot().tets {
		if !tet.IsGhost() {
			return tet
		}
	}
	t.Fatal("no finite tetrahedron")
	return nil
}

func TestHoleFiller_Reuse(t *testing.T) {
	s := newTestSpace(t)
	hs := insertAll(t, s, unitCorners...)
	waitValid(t, s)
	old := finiteTet(t, s)

	txn := newTestTxn(t, s, opMove, hs[0])
	f := newHoleFiller()
	require.NoError(t, txn.deleteTetrahedron(f, old.Handle))
	require.Len(t, f.open, 4, "every face of the hole is open")

	tet, err := txn.createTetrahedron(f, old.Nodes)
	require.NoError(t, err)
	require.Empty(t, f.open)
	require.Equal(t, old.Triangles, tet.Triangles, "open triangles are reused")
	require.NoError(t, f.Close(txn))

	txn.rollback()
	waitValid(t, s)
}

func TestHoleFiller_Open(t *testing.T) {
	s := newTestSpace(t)
	hs := insertAll(t, s, unitCorners...)
	waitValid(t, s)

	txn := newTestTxn(t, s, opMove, hs[0])
	f := newHoleFiller()
	require.NoError(t, txn.deleteTetrahedron(f, finiteTet(t, s).Handle))
	err := f.Close(txn)
	require.True(t, errors.Is(err, errors.ErrInvariant), "got %v", err)

	txn.rollback()
	waitValid(t, s)
}

func TestHoleFiller_PrefersAttached(t *testing.T) {
	s := newTestSpace(t)
	hs := insertAll(t, s, unitCorners...)
	waitValid(t, s)
	old := finiteTet(t, s)

	txn := newTestTxn(t, s, opMove, hs[0])
	f := newHoleFiller()
	require.NoError(t, txn.deleteTetrahedron(f, old.Handle))
	key := faceTriple(old.Nodes, 0)
	require.Len(t, f.open[key], 1)
	orig, err := txn.triangle(f.open[key][0])
	require.NoError(t, err)
	ghost := orig.Tetrahedra[0]
	if ghost.IsNone() {
		ghost = orig.Tetrahedra[1]
	}
	gt, err := txn.tet(ghost)
	require.NoError(t, err)

	// Hand the ghost over to a second triangle on the same nodes, leaving
	// the original detached on both sides.
	dup, err := txn.newHandle(txn.home, kindTriangle)
	require.NoError(t, err)
	copyTri := &Triangle{Handle: dup, Nodes: orig.Nodes, valid: true}
	txn.triangles[dup] = copyTri
	gt.Triangles[gt.FaceIndex(orig.Handle)] = dup
	orig.detach(ghost)
	copyTri.attach(ghost)
	f.track(copyTri)
	require.Len(t, f.open[key], 2)

	tet, err := txn.createTetrahedron(f, old.Nodes)
	require.NoError(t, err)
	require.Equal(t, dup, tet.Triangles[0])
	require.Equal(t, 2, copyTri.degree())
	require.NoError(t, f.Close(txn))
	require.False(t, orig.valid, "the unused triangle is dropped")

	txn.rollback()
	waitValid(t, s)
}
