// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
/*
This is the entrypoint for the tetra binary.
*/
package main

import (
	"fmt"
	"os"

	"github.com/featurebasedb/tetra/cmd"
	"github.com/featurebasedb/tetra/monitor"
)

func main() {
	defer monitor.CaptureMessage("Session:Ended")
	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
