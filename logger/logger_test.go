// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/featurebasedb/tetra/logger"
	"github.com/stretchr/testify/require"
)

func TestStandardLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewStandardLogger(&buf)
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.WithPrefix("[partition 0] ").Warnf("careful")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "INFO:  shown 2")
	require.Contains(t, out, "[partition 0] WARN:  careful")

	buf.Reset()
	logger.NewLogger(&buf, true).Debugf("now visible")
	require.Contains(t, buf.String(), "DEBUG: now visible")
}

type lines []string

func (l *lines) Logf(format string, v ...interface{}) {
	*l = append(*l, fmt.Sprintf(format, v...))
}

func TestLogfLoggerPrefixes(t *testing.T) {
	var got lines
	l := logger.NewLogfLogger(&got)
	l.Errorf("commit failed: %s", "boom")
	l.WithPrefix("[txn 9] ").WithPrefix("[retry] ").Warnf("requeued")
	logger.NopLogger.WithPrefix("x").Errorf("dropped")

	require.Equal(t, lines{"ERROR: commit failed: boom", "WARN:  [txn 9] [retry] requeued"}, got)
}
