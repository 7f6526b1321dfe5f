// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/featurebasedb/tetra"
	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/server"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prom2json"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/spatial/r3"
)

// BenchCommand represents a command for benchmarking a Space with random
// insertions, moves and removals.
type BenchCommand struct {
	// Space configuration.
	Config *server.Config

	// Number of each operation to execute.
	Points  int
	Moves   int
	Removes int

	// Concurrency is the number of goroutines submitting operations.
	Concurrency int
	// Rate limits submissions per second across all goroutines. 0 is
	// unlimited.
	Rate float64

	// Points are drawn uniformly from a cube of side Extent and moved by
	// at most Step along each axis.
	Extent float64
	Step   float64
	Seed   int64

	// Validate checks the triangulation after every phase.
	Validate bool
	// Metrics dumps the prometheus metric families as JSON at the end.
	Metrics bool

	// Standard input/output
	*tetra.CmdIO

	space   *tetra.Space
	limiter *rate.Limiter

	mu      sync.RWMutex
	handles []tetra.Handle
}

// NewBenchCommand returns a new instance of BenchCommand.
func NewBenchCommand(stdin io.Reader, stdout, stderr io.Writer) *BenchCommand {
	return &BenchCommand{
		Config:      server.NewConfig(),
		Points:      1000,
		Moves:       1000,
		Removes:     100,
		Concurrency: 4,
		Extent:      100,
		Step:        1,
		Seed:        time.Now().UnixNano(),
		CmdIO:       tetra.NewCmdIO(stdin, stdout, stderr),
	}
}

type phaseResult struct {
	name    string
	ops     int
	elapsed time.Duration
}

// Run executes the bench command.
func (cmd *BenchCommand) Run(ctx context.Context) error {
	switch {
	case cmd.Points < 1:
		return errors.Errorf("at least one point required, got %d", cmd.Points)
	case cmd.Removes > cmd.Points:
		return errors.Errorf("cannot remove %d of %d points", cmd.Removes, cmd.Points)
	case cmd.Concurrency < 1:
		return errors.Errorf("concurrency must be at least 1, got %d", cmd.Concurrency)
	case cmd.Extent <= 0:
		return errors.Errorf("extent must be positive, got %v", cmd.Extent)
	}

	srv := server.NewCommand(cmd.Stderr)
	srv.Config = cmd.Config
	if err := srv.Open(); err != nil {
		return errors.Wrap(err, "opening space")
	}
	defer srv.Close()
	cmd.space = srv.Space

	cmd.limiter = rate.NewLimiter(rate.Inf, 1)
	if cmd.Rate > 0 {
		cmd.limiter = rate.NewLimiter(rate.Limit(cmd.Rate), 1)
	}

	rnd := rand.New(rand.NewSource(cmd.Seed))
	first, err := cmd.space.CreateInitialNode(cmd.randomPosition(rnd), 0)
	if err != nil {
		return errors.Wrap(err, "creating initial node")
	}
	cmd.handles = []tetra.Handle{first}

	var results []phaseResult
	res, err := cmd.runPhase(ctx, "insert", cmd.Points-1, cmd.insert)
	if err != nil {
		return err
	}
	results = append(results, res)

	res, err = cmd.runPhase(ctx, "move", cmd.Moves, cmd.move)
	if err != nil {
		return err
	}
	results = append(results, res)

	// Each removal takes a distinct handle from a shuffled copy.
	victims := make([]tetra.Handle, len(cmd.handles))
	copy(victims, cmd.handles)
	rnd.Shuffle(len(victims), func(i, j int) { victims[i], victims[j] = victims[j], victims[i] })
	victims = victims[:cmd.Removes]
	var next int64 = -1
	res, err = cmd.runPhase(ctx, "remove", cmd.Removes, func(_ *rand.Rand) error {
		return cmd.space.Remove(victims[atomic.AddInt64(&next, 1)])
	})
	if err != nil {
		return err
	}
	results = append(results, res)

	cmd.report(results)
	if cmd.Metrics {
		if err := cmd.dumpMetrics(prometheus.DefaultGatherer); err != nil {
			return errors.Wrap(err, "dumping metrics")
		}
	}
	return nil
}

// runPhase spreads n calls of op over the configured goroutines and waits
// for the space to drain.
func (cmd *BenchCommand) runPhase(ctx context.Context, name string, n int, op func(rnd *rand.Rand) error) (phaseResult, error) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cmd.Concurrency)
	for w := 0; w < cmd.Concurrency; w++ {
		w := w
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(cmd.Seed + int64(w) + 1))
			for i := w; i < n; i += cmd.Concurrency {
				if err := cmd.limiter.Wait(gctx); err != nil {
					return err
				}
				if err := op(rnd); err != nil {
					return errors.Wrapf(err, "%s %d", name, i)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return phaseResult{}, err
	}

	wctx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Config.Queue.ReliableTimeout))
	defer cancel()
	if err := cmd.space.WaitIdle(wctx); err != nil {
		return phaseResult{}, errors.Wrapf(err, "waiting for %s to drain", name)
	}
	res := phaseResult{name: name, ops: n, elapsed: time.Since(start)}

	if cmd.Validate {
		if err := cmd.space.Validate(); err != nil {
			return res, errors.Wrapf(err, "validating after %s", name)
		}
	}
	cmd.Logger().Debugf("%s: %d ops in %s", name, n, res.elapsed)
	return res, nil
}

func (cmd *BenchCommand) insert(rnd *rand.Rand) error {
	cmd.mu.RLock()
	near := cmd.handles[rnd.Intn(len(cmd.handles))]
	cmd.mu.RUnlock()

	h, err := cmd.space.InsertNear(near, cmd.randomPosition(rnd), rnd.Int())
	if err != nil {
		return err
	}
	cmd.mu.Lock()
	cmd.handles = append(cmd.handles, h)
	cmd.mu.Unlock()
	return nil
}

func (cmd *BenchCommand) move(rnd *rand.Rand) error {
	cmd.mu.RLock()
	h := cmd.handles[rnd.Intn(len(cmd.handles))]
	cmd.mu.RUnlock()

	delta := r3.Vec{
		X: (2*rnd.Float64() - 1) * cmd.Step,
		Y: (2*rnd.Float64() - 1) * cmd.Step,
		Z: (2*rnd.Float64() - 1) * cmd.Step,
	}
	return cmd.space.Move(h, delta)
}

func (cmd *BenchCommand) randomPosition(rnd *rand.Rand) r3.Vec {
	return r3.Vec{
		X: rnd.Float64() * cmd.Extent,
		Y: rnd.Float64() * cmd.Extent,
		Z: rnd.Float64() * cmd.Extent,
	}
}

func (cmd *BenchCommand) report(results []phaseResult) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.Stdout)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"phase", "ops", "elapsed", "ops/sec"})
	for _, r := range results {
		perSec := 0.0
		if s := r.elapsed.Seconds(); s > 0 {
			perSec = float64(r.ops) / s
		}
		t.AppendRow(table.Row{r.name, r.ops, r.elapsed.Round(time.Microsecond), fmt.Sprintf("%0.1f", perSec)})
	}
	t.Render()

	st := cmd.space.Stats()
	s := table.NewWriter()
	s.SetOutputMirror(cmd.Stdout)
	s.Style().Format.Header = text.FormatDefault
	s.AppendHeader(table.Row{"counter", "value"})
	for _, row := range []table.Row{
		{"points", cmd.space.PointCount()},
		{"tetrahedra", cmd.space.TetrahedronCount()},
		{"committed", st.Committed},
		{"rolled back", st.RolledBack},
		{"failed", st.Failed},
		{"flips 2-3", st.Flips23},
		{"flips 3-2", st.Flips32},
		{"flips 4-4", st.Flips44},
		{"moves by flip", st.MovesByFlip},
		{"moves by cleanup", st.MovesByCleanup},
		{"moves by reinsert", st.MovesByReinsert},
	} {
		s.AppendRow(row)
	}
	s.Render()
}

// dumpMetrics writes the families gathered by g as JSON.
func (cmd *BenchCommand) dumpMetrics(g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering")
	}
	families := make([]*prom2json.Family, 0, len(mfs))
	for _, mf := range mfs {
		if !isTetraFamily(mf) {
			continue
		}
		families = append(families, prom2json.NewFamily(mf))
	}
	enc := json.NewEncoder(cmd.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(families)
}

func isTetraFamily(mf *dto.MetricFamily) bool {
	const prefix = tetra.MetricNamespace + "_"
	return len(mf.GetName()) > len(prefix) && mf.GetName()[:len(prefix)] == prefix
}
