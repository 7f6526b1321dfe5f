// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"time"

	"github.com/featurebasedb/tetra/server"
	"github.com/spf13/pflag"
)

// spaceFlagSet returns a flag set bound to every field of c. Flag names
// match the dotted TOML keys so a config file can set any of them.
func spaceFlagSet(c *server.Config) *pflag.FlagSet {
	flags := pflag.NewFlagSet("space", pflag.ContinueOnError)

	flags.IntVar(&c.Partitions, "partitions", c.Partitions, "Number of partitions the space is split across.")
	flags.Uint64Var(&c.AddressSpace, "address-space", c.AddressSpace, "Handle addresses owned by each partition.")
	flags.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "Enable verbose logging.")
	flags.StringVar(&c.LogPath, "log-path", c.LogPath, "Log path; stderr when empty.")

	flags.IntVar(&c.Queue.MaxParallel, "queue.max-parallel", c.Queue.MaxParallel, "Transactions a partition runs at once.")
	flags.BoolVar(&c.Queue.Multithreaded, "queue.multithreaded", c.Queue.Multithreaded, "Run transactions on worker pools.")
	flags.Var(&c.Queue.MaxDivergence, "queue.max-divergence", "Backlog, as a fraction of points, under which a partition is reliable.")
	flags.IntVar(&c.Queue.MaxRetries, "queue.max-retries", c.Queue.MaxRetries, "Attempts per transaction; 0 is unbounded.")
	flags.DurationVar((*time.Duration)(&c.Queue.ReliableTimeout), "queue.reliable-timeout", time.Duration(c.Queue.ReliableTimeout), "How long to wait for the space to drain.")
	flags.IntVar(&c.Queue.History, "queue.history", c.Queue.History, "Finished transactions remembered.")

	flags.StringVar(&c.Policy.Kind, "policy.kind", c.Policy.Kind, "Partition assignment policy: slab or grid.")
	flags.IntVar(&c.Policy.Axis, "policy.axis", c.Policy.Axis, "Axis cut by the slab policy.")
	flags.Float64Var(&c.Policy.Width, "policy.width", c.Policy.Width, "Slab width or grid cell size.")

	flags.Float64Var(&c.Tolerance.Epsilon, "tolerance.epsilon", c.Tolerance.Epsilon, "Machine epsilon of the predicate error bounds.")
	flags.Float64Var(&c.Tolerance.OrientFactor, "tolerance.orient-factor", c.Tolerance.OrientFactor, "Error bound factor of the orientation test.")
	flags.Float64Var(&c.Tolerance.InSphereFactor, "tolerance.insphere-factor", c.Tolerance.InSphereFactor, "Error bound factor of the in-sphere test.")
	flags.Float64Var(&c.Tolerance.Sphere, "tolerance.sphere", c.Tolerance.Sphere, "Relative tolerance of cached circumspheres.")
	flags.Float64Var(&c.Tolerance.Plane, "tolerance.plane", c.Tolerance.Plane, "Relative tolerance of cached planes.")

	flags.BoolVar(&c.Tracing.Enabled, "tracing.enabled", c.Tracing.Enabled, "Trace transactions through the global opentracing tracer.")
	flags.BoolVar(&c.Monitor.Enabled, "monitor.enabled", c.Monitor.Enabled, "Report errors to Sentry.")
	flags.StringVar(&c.Monitor.DSN, "monitor.dsn", c.Monitor.DSN, "Sentry DSN.")
	flags.StringVar(&c.Metric.Service, "metric.service", c.Metric.Service, "Metric service: prometheus or none.")
	return flags
}
