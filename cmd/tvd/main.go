// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command tvd is the tuner daemon and its maintenance tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tvd/internal/app/bootstrap"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// devices overrides the DVB device factory; nil opens real hardware.
var devices bootstrap.DeviceFactory

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tvd",
		Short:         "DVB/ATSC tuner daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to config file (YAML)")
	root.AddCommand(newServeCmd(), newScanCmd(), newPlayCmd(), newStoreCmd(), newVersionCmd())
	return root
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tvd:", err)
		os.Exit(1)
	}
}
