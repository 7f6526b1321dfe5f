// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package ctl implements the tetra subcommands independently of the
// command line parsing in package cmd.
package ctl

import (
	"context"
	"fmt"
	"io"

	"github.com/featurebasedb/tetra"
	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/server"
	toml "github.com/pelletier/go-toml"
)

// ConfigCommand represents a command for printing the effective config.
type ConfigCommand struct {
	*tetra.CmdIO
	Config *server.Config
}

// NewConfigCommand returns a new instance of ConfigCommand.
func NewConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *ConfigCommand {
	return &ConfigCommand{
		CmdIO:  tetra.NewCmdIO(stdin, stdout, stderr),
		Config: server.NewConfig(),
	}
}

// Run prints out the config.
func (cmd *ConfigCommand) Run(_ context.Context) error {
	buf, err := toml.Marshal(*cmd.Config)
	if err != nil {
		return errors.Wrap(err, "marshalling config")
	}
	fmt.Fprintln(cmd.Stdout, string(buf))
	return nil
}
