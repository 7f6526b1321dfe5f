// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/featurebasedb/tetra/server"
	"github.com/stretchr/testify/require"
)

func TestConfigCommand_Run(t *testing.T) {
	buf := &bytes.Buffer{}
	cm := NewConfigCommand(os.Stdin, buf, os.Stderr)
	cm.Config = server.NewConfig()
	cm.Config.Partitions = 7
	cm.Config.Policy.Kind = "grid"

	require.NoError(t, cm.Run(context.Background()))
	require.Contains(t, buf.String(), "partitions = 7")
	require.Contains(t, buf.String(), `kind = "grid"`)
	require.Contains(t, buf.String(), "max-divergence")
}

func TestGenerateConfigCommand_Run(t *testing.T) {
	buf := &bytes.Buffer{}
	cm := NewGenerateConfigCommand(os.Stdin, buf, os.Stderr)
	require.NoError(t, cm.Run(context.Background()))

	out := buf.String()
	require.Contains(t, out, "[queue]")
	require.Contains(t, out, "max-parallel = 4")
	require.Contains(t, out, "max-divergence")
	require.Contains(t, out, "3%")
	require.Contains(t, out, "1m0s")
	require.Contains(t, out, "[tolerance]")
}
