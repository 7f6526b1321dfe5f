// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"fmt"
	"testing"
	"time"

	"github.com/featurebasedb/tetra/errors"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer(t *testing.T) {
	tests := []struct {
		start   int
		count   int
		targets []string
	}{
		{start: 0, count: 0, targets: []string{}},
		{start: 0, count: 1, targets: []string{"0"}},
		{start: 0, count: 2, targets: []string{"0", "1"}},
		{start: 0, count: 3, targets: []string{"0", "1", "2"}},
		{start: 0, count: 4, targets: []string{"0", "1", "2", "3"}},
		{start: 0, count: 5, targets: []string{"0", "1", "2", "3", "4"}},
		{start: 1, count: 5, targets: []string{"1", "2", "3", "4", "5"}},
		{start: 2, count: 5, targets: []string{"2", "3", "4", "5", "6"}},
		{start: 3, count: 5, targets: []string{"3", "4", "5", "6", "7"}},
		{start: 4, count: 5, targets: []string{"4", "5", "6", "7", "8"}},
		{start: 0, count: 5, targets: []string{"5", "6", "7", "8", "9"}},
		{start: 1, count: 5, targets: []string{"6", "7", "8", "9", "10"}},
		{start: 2, count: 5, targets: []string{"7", "8", "9", "10", "11"}},
	}
	buffer := newRingBuffer(5)
	for k := 0; k < len(tests); k++ {
		require.Equal(t, tests[k].start, buffer.start, "test %d", k)
		require.Equal(t, tests[k].count, buffer.count, "test %d", k)

		got := buffer.slice()
		require.Len(t, got, len(tests[k].targets))
		for n, s := range got {
			require.Equal(t, tests[k].targets[n], s.Target, "test[%d], buffer[%d]", k, n)
		}
		buffer.add(PastTxnStatus{Target: fmt.Sprintf("%d", k)})
	}
}

func TestRingBuffer_Empty(t *testing.T) {
	buffer := newRingBuffer(0)
	buffer.add(PastTxnStatus{Target: "x"})
	require.Empty(t, buffer.slice())
}

func TestTxnTracker(t *testing.T) {
	tracker := newTxnTracker(5)
	defer tracker.Stop()

	require.Empty(t, tracker.ActiveTxns())

	txn := &Txn{id: 3, kind: opMove, target: Handle{Addr: 9, Part: 1}, started: time.Now(), attempts: 2}
	tracker.Start(txn)

	var active []ActiveTxnStatus
	for len(active) < 1 {
		active = tracker.ActiveTxns()
	}
	require.Len(t, active, 1)
	require.Equal(t, "move", active[0].Op)
	require.Equal(t, "9@1", active[0].Target)

	tracker.Finish(txn, errors.New(errors.ErrLocked, "busy"))
	for len(active) > 0 {
		active = tracker.ActiveTxns()
	}

	past := tracker.PastTxns()
	require.Len(t, past, 1)
	require.Equal(t, uint64(3), past[0].ID)
	require.Equal(t, 2, past[0].Attempts)
	require.Contains(t, past[0].Err, "busy")
}
