// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"time"

	"github.com/featurebasedb/tetra"
	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/geom"
	"github.com/featurebasedb/tetra/toml"
)

// Config represents the configuration of a Space and the tools around it.
type Config struct {
	// Partitions is the number of partitions the space is split across.
	Partitions int `toml:"partitions"`

	// AddressSpace is the number of handle addresses each partition owns.
	AddressSpace uint64 `toml:"address-space"`

	// Verbose toggles debug logging.
	Verbose bool `toml:"verbose"`

	// LogPath configures where logs are written. Empty means stderr.
	LogPath string `toml:"log-path"`

	Queue struct {
		// MaxParallel bounds the transactions a partition runs at once.
		MaxParallel int `toml:"max-parallel"`
		// Multithreaded runs transactions on worker pools. When false,
		// every operation completes before it returns.
		Multithreaded bool `toml:"multithreaded"`
		// MaxDivergence is the backlog, as a fraction of points, under
		// which a partition counts as reliable.
		MaxDivergence toml.Fraction `toml:"max-divergence"`
		// MaxRetries bounds the attempts of a transaction. 0 is unbounded.
		MaxRetries int `toml:"max-retries"`
		// ReliableTimeout bounds how long tools wait for a space to drain.
		ReliableTimeout toml.Duration `toml:"reliable-timeout"`
		// History is the number of finished transactions remembered.
		History int `toml:"history"`
	} `toml:"queue"`

	Policy struct {
		// Kind is "slab" or "grid".
		Kind  string  `toml:"kind"`
		Axis  int     `toml:"axis"`
		Width float64 `toml:"width"`
	} `toml:"policy"`

	Tolerance geom.Tolerance `toml:"tolerance"`

	Tracing struct {
		Enabled bool `toml:"enabled"`
	} `toml:"tracing"`

	Monitor struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"monitor"`

	Metric struct {
		// Service is "prometheus" or "none".
		Service string `toml:"service"`
	} `toml:"metric"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	c := &Config{
		Partitions:   tetra.DefaultPartitions,
		AddressSpace: tetra.DefaultAddressSpace,
		// LogPath: "",
		// Verbose: false,
		Tolerance: geom.DefaultTolerance,
	}

	c.Queue.MaxParallel = tetra.DefaultMaxParallel
	c.Queue.Multithreaded = true
	c.Queue.MaxDivergence = toml.Fraction(tetra.DefaultMaxDivergence)
	c.Queue.MaxRetries = tetra.DefaultMaxRetries
	c.Queue.ReliableTimeout = toml.Duration(time.Minute)
	c.Queue.History = tetra.DefaultHistoryLength

	c.Policy.Kind = "slab"
	c.Policy.Axis = 0
	c.Policy.Width = 1

	c.Metric.Service = "prometheus"
	return c
}

// Validate checks the configuration for values a Space would reject.
func (c *Config) Validate() error {
	if c.Partitions < 1 {
		return errors.Errorf("partitions must be at least 1, got %d", c.Partitions)
	}
	if c.AddressSpace < 2 {
		return errors.Errorf("address-space too small: %d", c.AddressSpace)
	}
	if c.Queue.MaxParallel < 1 {
		return errors.Errorf("queue.max-parallel must be at least 1, got %d", c.Queue.MaxParallel)
	}
	if d := float64(c.Queue.MaxDivergence); d < 0 || d > 1 {
		return errors.Errorf("queue.max-divergence must be within [0,1], got %v", d)
	}
	if c.Queue.MaxRetries < 0 {
		return errors.Errorf("queue.max-retries cannot be negative")
	}
	switch c.Metric.Service {
	case "prometheus", "none", "nop", "":
	default:
		return errors.Errorf("unsupported metric service %q", c.Metric.Service)
	}
	return nil
}
