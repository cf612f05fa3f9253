// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tvd/internal/config"
	"github.com/ManuGH/tvd/internal/persistence/sqlite"
	"github.com/ManuGH/tvd/internal/store"
)

// errCorrupt is returned when an integrity check reports problems.
var errCorrupt = errors.New("catalog database failed integrity check")

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Catalog store maintenance",
	}
	cmd.AddCommand(newStoreVerifyCmd())
	return cmd
}

func newStoreVerifyCmd() *cobra.Command {
	var path, mode string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the integrity of the sqlite catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode = strings.ToLower(strings.TrimSpace(mode))
			if mode != string(sqlite.VerifyQuick) && mode != string(sqlite.VerifyFull) {
				return fmt.Errorf("invalid --mode %q: use quick or full", mode)
			}
			if path == "" {
				cfg, err := config.NewLoader(configPath(cmd), version).Load()
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				if cfg.Storage.Backend != "sqlite" {
					return fmt.Errorf("storage backend is %s, not sqlite: pass --path", cfg.Storage.Backend)
				}
				path = store.SqlitePath(cfg.StorePath())
			}

			out := cmd.OutOrStdout()
			issues, err := sqlite.VerifyIntegrity(path, sqlite.VerifyMode(mode))
			if err != nil {
				return err
			}
			if issues != nil {
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
				return fmt.Errorf("%s: %w", path, errCorrupt)
			}
			_, err = fmt.Fprintf(out, "%s: ok (%s)\n", path, mode)
			return err
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "database file (default: the configured catalog)")
	cmd.Flags().StringVar(&mode, "mode", "quick", "quick or full")
	return cmd
}
