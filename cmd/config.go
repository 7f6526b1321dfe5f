// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/featurebasedb/tetra/ctl"
	"github.com/spf13/cobra"
)

func newConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	conf := ctl.NewConfigCommand(stdin, stdout, stderr)
	confCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the current configuration.",
		Long: `config prints the configuration after applying flags, environment
variables and the config file, to stdout.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return conf.Run(context.Background())
		},
	}
	confCmd.Flags().AddFlagSet(spaceFlagSet(conf.Config))
	return confCmd
}
