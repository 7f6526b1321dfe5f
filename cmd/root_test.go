// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/featurebasedb/tetra/cmd"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	rc := cmd.NewRootCommand(strings.NewReader(""), stdout, stderr)
	rc.SetArgs(args)
	err := rc.Execute()
	return stdout.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tetra.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestConfig_Precedence(t *testing.T) {
	path := writeConfig(t, `
partitions = 5
[queue]
max-parallel = 9
max-divergence = "10%"
[policy]
kind = "grid"
`)
	t.Setenv("TETRA_QUEUE_MAX_PARALLEL", "11")

	out, err := execute(t, "config", "--config", path, "--policy.kind", "slab")
	require.NoError(t, err)

	// file
	require.Contains(t, out, "partitions = 5")
	require.Contains(t, out, "10%")
	// environment beats file
	require.Contains(t, out, "max-parallel = 11")
	// flag beats file
	require.Contains(t, out, `kind = "slab"`)
}

func TestConfig_InvalidKey(t *testing.T) {
	path := writeConfig(t, "no-such-option = 1\n")
	_, err := execute(t, "config", "--config", path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid option in configuration file")
}

func TestConfig_BadFraction(t *testing.T) {
	_, err := execute(t, "config", "--queue.max-divergence", "150%")
	require.Error(t, err)
}

func TestGenerateConfig(t *testing.T) {
	out, err := execute(t, "generate-config")
	require.NoError(t, err)
	require.Contains(t, out, "[tolerance]")
	require.Contains(t, out, "partitions = 1")
}

func TestBench(t *testing.T) {
	out, err := execute(t, "bench",
		"--points", "30", "--moves", "10", "--removes", "3",
		"--partitions", "2", "--policy.width", "50",
		"--seed", "3", "--validate")
	require.NoError(t, err)
	require.Contains(t, out, "insert")
	require.Contains(t, out, "remove")
}

func TestDryRun(t *testing.T) {
	_, err := execute(t, "config", "--dry-run")
	require.EqualError(t, err, "dry run")
}
