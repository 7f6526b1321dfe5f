// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package server turns a Config into a running Space along with the
// logging, tracing and error monitoring around it.
package server

import (
	"io"
	"os"

	"github.com/featurebasedb/tetra"
	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/geom"
	"github.com/featurebasedb/tetra/logger"
	"github.com/featurebasedb/tetra/monitor"
	"github.com/featurebasedb/tetra/tracing"
	"github.com/featurebasedb/tetra/tracing/opentracing"
	gopentracing "github.com/opentracing/opentracing-go"
)

// Command holds a Space built from a Config, and the resources it opened.
type Command struct {
	Config *Config
	Space  *tetra.Space

	Stderr io.Writer

	logOutput io.Writer
	logFile   *os.File
	logger    logger.Logger
}

// NewCommand returns a Command with a default Config.
func NewCommand(stderr io.Writer) *Command {
	return &Command{
		Config: NewConfig(),
		Stderr: stderr,
	}
}

// Logger returns the logger set up by Open.
func (m *Command) Logger() logger.Logger {
	return m.logger
}

// setupLogger sets up the logger based on the configuration.
func (m *Command) setupLogger() error {
	if m.Config.LogPath == "" {
		m.logOutput = m.Stderr
	} else {
		f, err := os.OpenFile(m.Config.LogPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return errors.Wrap(err, "opening file")
		}
		m.logFile = f
		m.logOutput = f
	}
	m.logger = logger.NewLogger(m.logOutput, m.Config.Verbose)
	return nil
}

// Open validates the configuration, applies its process-wide settings and
// starts the Space.
func (m *Command) Open() error {
	if err := m.Config.Validate(); err != nil {
		return errors.Wrap(err, "validating config")
	}
	if err := m.setupLogger(); err != nil {
		return errors.Wrap(err, "setting up logger")
	}

	geom.SetTolerance(m.Config.Tolerance)

	if m.Config.Tracing.Enabled {
		tracing.GlobalTracer = opentracing.NewTracer(gopentracing.GlobalTracer(), m.logger)
	}
	if m.Config.Monitor.Enabled {
		if err := monitor.InitErrorMonitor(tetra.Version, m.Config.Monitor.DSN); err != nil {
			m.logger.Warnf("starting error monitor: %v", err)
		}
	}

	policy, err := tetra.NewPolicy(m.Config.Policy.Kind, m.Config.Policy.Axis, m.Config.Policy.Width, m.Config.Partitions)
	if err != nil {
		return errors.Wrap(err, "building policy")
	}
	m.Space, err = tetra.NewSpace(
		tetra.OptSpaceLogger(m.logger),
		tetra.OptSpacePartitions(m.Config.Partitions),
		tetra.OptSpaceAddressSpace(m.Config.AddressSpace),
		tetra.OptSpaceMaxParallel(m.Config.Queue.MaxParallel),
		tetra.OptSpaceMultithreaded(m.Config.Queue.Multithreaded),
		tetra.OptSpaceMaxDivergence(float64(m.Config.Queue.MaxDivergence)),
		tetra.OptSpacePolicy(policy),
		tetra.OptSpaceMaxRetries(m.Config.Queue.MaxRetries),
		tetra.OptSpaceHistory(m.Config.Queue.History),
	)
	if err != nil {
		return errors.Wrap(err, "creating space")
	}
	m.logger.Infof("%s", tetra.VersionInfo())
	return nil
}

// Close stops the Space and releases the log file.
func (m *Command) Close() error {
	var err error
	if m.Space != nil {
		err = m.Space.Close()
	}
	if m.logFile != nil {
		if cerr := m.logFile.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
