// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/featurebasedb/tetra/ctl"
	"github.com/spf13/cobra"
)

func newBenchCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	bencher := ctl.NewBenchCommand(stdin, stdout, stderr)
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark operations on a space.",
		Long: `
Builds a space from the configuration and runs random insertions, moves
and removals against it, then prints throughput and counters.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return bencher.Run(ctx)
		},
	}
	flags := benchCmd.Flags()
	flags.IntVarP(&bencher.Points, "points", "n", bencher.Points, "Number of points to insert.")
	flags.IntVar(&bencher.Moves, "moves", bencher.Moves, "Number of moves to perform.")
	flags.IntVar(&bencher.Removes, "removes", bencher.Removes, "Number of points to remove.")
	flags.IntVar(&bencher.Concurrency, "concurrency", bencher.Concurrency, "Goroutines submitting operations.")
	flags.Float64Var(&bencher.Rate, "rate", bencher.Rate, "Operations per second; 0 is unlimited.")
	flags.Float64Var(&bencher.Extent, "extent", bencher.Extent, "Side of the cube points are drawn from.")
	flags.Float64Var(&bencher.Step, "step", bencher.Step, "Largest move along each axis.")
	flags.Int64Var(&bencher.Seed, "seed", bencher.Seed, "Random seed.")
	flags.BoolVar(&bencher.Validate, "validate", false, "Validate the triangulation after every phase.")
	flags.BoolVar(&bencher.Metrics, "metrics", false, "Dump prometheus metrics as JSON.")
	flags.AddFlagSet(spaceFlagSet(bencher.Config))

	return benchCmd
}
