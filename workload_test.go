// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/featurebasedb/tetra/logger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
)

func randomVec(rnd *rand.Rand, scale float64) r3.Vec {
	return r3.Vec{X: rnd.Float64() * scale, Y: rnd.Float64() * scale, Z: rnd.Float64() * scale}
}

// TestConcurrentWorkload runs insertions, moves and removals from several
// goroutines against a multithreaded space spread over partitions and
// validates the mesh after every phase.
func TestConcurrentWorkload(t *testing.T) {
	if testing.Short() {
		t.Skip("long")
	}
	for name, policy := range map[string]Policy{
		"slab": SlabPolicy{Axis: 0, Width: 25, N: 3},
		"grid": GridPolicy{Cell: 20, N: 3},
	} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			s := newTestSpace(t,
				OptSpaceLogger(logger.NopLogger),
				OptSpacePartitions(3),
				OptSpacePolicy(policy),
				OptSpaceMultithreaded(true),
				OptSpaceMaxParallel(4),
				OptSpaceMaxRetries(0),
			)
			const workers, perWorker = 4, 60

			first, err := s.CreateInitialNode(r3.Vec{X: 50, Y: 50, Z: 50}, -1)
			require.NoError(t, err)

			var mu sync.Mutex
			handles := []Handle{first}
			pick := func(rnd *rand.Rand) Handle {
				mu.Lock()
				defer mu.Unlock()
				return handles[rnd.Intn(len(handles))]
			}

			g, _ := errgroup.WithContext(ctx)
			for w := 0; w < workers; w++ {
				w := w
				g.Go(func() error {
					rnd := rand.New(rand.NewSource(int64(w)))
					for i := 0; i < perWorker; i++ {
						h, err := s.InsertNear(pick(rnd), randomVec(rnd, 100), w*perWorker+i)
						if err != nil {
							return err
						}
						mu.Lock()
						handles = append(handles, h)
						mu.Unlock()
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			waitValid(t, s)
			require.Equal(t, workers*perWorker+1, s.PointCount())

			// Each worker moves and then removes its own share of points.
			g, _ = errgroup.WithContext(ctx)
			for w := 0; w < workers; w++ {
				w := w
				g.Go(func() error {
					rnd := rand.New(rand.NewSource(int64(100 + w)))
					for i := w; i < len(handles); i += workers {
						d := r3.Scale(2, r3.Sub(randomVec(rnd, 1), r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}))
						if err := s.Move(handles[i], d); err != nil {
							return err
						}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			waitValid(t, s)

			g, _ = errgroup.WithContext(ctx)
			for w := 0; w < workers; w++ {
				w := w
				g.Go(func() error {
					for i := w; i < len(handles); i += 2 * workers {
						if err := s.Remove(handles[i]); err != nil {
							return err
						}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			waitValid(t, s)

			for _, h := range handles {
				require.NoError(t, s.Wait(ctx, h), "operation on %s", h)
			}
			st := s.Stats()
			require.Zero(t, st.Failed)
			require.Equal(t, st.Inserted-st.Removed+1, uint64(s.PointCount()))
			require.Eventually(t, func() bool { return len(s.ActiveTxns()) == 0 }, 10*time.Second, time.Millisecond)
		})
	}
}

func TestMetrics(t *testing.T) {
	inserted := testutil.ToFloat64(CounterPointsInserted)
	moved := testutil.ToFloat64(CounterPointsMoved)
	removed := testutil.ToFloat64(CounterPointsRemoved)
	committed := testutil.ToFloat64(CounterTxnCommitted)
	reinserts := testutil.ToFloat64(CounterMoveStrategy.WithLabelValues("reinsert"))

	s := newTestSpace(t)
	hs := insertAll(t, s, append(bigCorners, r3.Vec{X: 2, Y: 2, Z: 2})...)
	require.NoError(t, s.Move(hs[4], r3.Vec{X: 40}))
	require.NoError(t, s.Remove(hs[1]))
	waitValid(t, s)

	require.Equal(t, inserted+4, testutil.ToFloat64(CounterPointsInserted))
	require.Equal(t, moved+1, testutil.ToFloat64(CounterPointsMoved))
	require.Equal(t, removed+1, testutil.ToFloat64(CounterPointsRemoved))
	require.Equal(t, committed+6, testutil.ToFloat64(CounterTxnCommitted))
	require.Equal(t, reinserts+1, testutil.ToFloat64(CounterMoveStrategy.WithLabelValues("reinsert")))

	st := s.Stats()
	require.Equal(t, uint64(4), st.Inserted)
	require.Equal(t, uint64(6), st.Committed)
}
