// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"sync/atomic"
)

// Stats counts what one Space has done. The process-wide prometheus
// counters in metrics.go are fed alongside.
type Stats struct {
	Committed  uint64 `json:"committed"`
	RolledBack uint64 `json:"rolledBack"`
	Failed     uint64 `json:"failed"`

	Inserted uint64 `json:"inserted"`
	Moved    uint64 `json:"moved"`
	Removed  uint64 `json:"removed"`

	Flips23 uint64 `json:"flips23"`
	Flips32 uint64 `json:"flips32"`
	Flips44 uint64 `json:"flips44"`

	// Moves completed by each strategy.
	MovesByFlip     uint64 `json:"movesByFlip"`
	MovesByCleanup  uint64 `json:"movesByCleanup"`
	MovesByReinsert uint64 `json:"movesByReinsert"`
}

type spaceStats struct {
	s Stats
}

func (st *spaceStats) snapshot() Stats {
	return Stats{
		Committed:       atomic.LoadUint64(&st.s.Committed),
		RolledBack:      atomic.LoadUint64(&st.s.RolledBack),
		Failed:          atomic.LoadUint64(&st.s.Failed),
		Inserted:        atomic.LoadUint64(&st.s.Inserted),
		Moved:           atomic.LoadUint64(&st.s.Moved),
		Removed:         atomic.LoadUint64(&st.s.Removed),
		Flips23:         atomic.LoadUint64(&st.s.Flips23),
		Flips32:         atomic.LoadUint64(&st.s.Flips32),
		Flips44:         atomic.LoadUint64(&st.s.Flips44),
		MovesByFlip:     atomic.LoadUint64(&st.s.MovesByFlip),
		MovesByCleanup:  atomic.LoadUint64(&st.s.MovesByCleanup),
		MovesByReinsert: atomic.LoadUint64(&st.s.MovesByReinsert),
	}
}

func (st *spaceStats) committed(t *Txn) {
	atomic.AddUint64(&st.s.Committed, 1)
	CounterTxnCommitted.Inc()
	switch t.kind {
	case opInsert:
		atomic.AddUint64(&st.s.Inserted, 1)
		CounterPointsInserted.Inc()
	case opRemove:
		atomic.AddUint64(&st.s.Removed, 1)
		CounterPointsRemoved.Inc()
	case opMove:
		atomic.AddUint64(&st.s.Moved, 1)
		CounterPointsMoved.Inc()
		CounterMoveStrategy.WithLabelValues(t.moveUsed.String()).Inc()
		switch t.moveUsed {
		case moveFlip:
			atomic.AddUint64(&st.s.MovesByFlip, 1)
		case moveCleanup:
			atomic.AddUint64(&st.s.MovesByCleanup, 1)
		default:
			atomic.AddUint64(&st.s.MovesByReinsert, 1)
		}
	}
	atomic.AddUint64(&st.s.Flips23, uint64(t.flips.f23))
	atomic.AddUint64(&st.s.Flips32, uint64(t.flips.f32))
	atomic.AddUint64(&st.s.Flips44, uint64(t.flips.f44))
	CounterFlips.WithLabelValues("2-3").Add(float64(t.flips.f23))
	CounterFlips.WithLabelValues("3-2").Add(float64(t.flips.f32))
	CounterFlips.WithLabelValues("4-4").Add(float64(t.flips.f44))
}

func (st *spaceStats) rolledBack() {
	atomic.AddUint64(&st.s.RolledBack, 1)
	CounterTxnRolledBack.Inc()
}

func (st *spaceStats) failed() {
	atomic.AddUint64(&st.s.Failed, 1)
	CounterTxnFailed.Inc()
}
