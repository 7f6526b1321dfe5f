// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server_test

import (
	"bytes"
	"testing"

	"github.com/featurebasedb/tetra/geom"
	"github.com/featurebasedb/tetra/server"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, server.NewConfig().Validate())

	for name, mod := range map[string]func(c *server.Config){
		"partitions": func(c *server.Config) { c.Partitions = 0 },
		"address":    func(c *server.Config) { c.AddressSpace = 1 },
		"parallel":   func(c *server.Config) { c.Queue.MaxParallel = 0 },
		"divergence": func(c *server.Config) { c.Queue.MaxDivergence = 2 },
		"retries":    func(c *server.Config) { c.Queue.MaxRetries = -1 },
		"metric":     func(c *server.Config) { c.Metric.Service = "statsd" },
	} {
		t.Run(name, func(t *testing.T) {
			c := server.NewConfig()
			mod(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestCommand_Open(t *testing.T) {
	defer geom.SetTolerance(geom.DefaultTolerance)

	var stderr bytes.Buffer
	m := server.NewCommand(&stderr)
	m.Config.Partitions = 3
	m.Config.Queue.Multithreaded = false
	m.Config.Policy.Kind = "grid"
	m.Config.Tolerance.Sphere = 1e-6
	require.NoError(t, m.Open())
	defer m.Close()

	require.Len(t, m.Space.Partitions(), 3)
	require.Equal(t, 1e-6, geom.CurrentTolerance().Sphere)

	h, err := m.Space.CreateInitialNode(r3.Vec{X: 1, Y: 2, Z: 3}, "a")
	require.NoError(t, err)
	require.Equal(t, 1, m.Space.PointCount())
	require.False(t, h.IsNone())
	require.Contains(t, stderr.String(), "tetra")
}

func TestCommand_OpenBadPolicy(t *testing.T) {
	m := server.NewCommand(&bytes.Buffer{})
	m.Config.Policy.Kind = "hexagonal"
	require.Error(t, m.Open())
}
