// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tvd/internal/app/bootstrap"
	xglog "github.com/ManuGH/tvd/internal/log"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tuner daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath(cmd))
		},
	}
}

func serve(ctx context.Context, path string) error {
	c, err := bootstrap.WireServices(ctx, path, bootstrap.Options{Version: version, Devices: devices})
	if err != nil {
		return err
	}
	c.Logger.Info().
		Str(xglog.FieldEvent, "daemon.start").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("listen", c.Config.API.ListenAddr).
		Msg("starting tvd")
	return c.Run(ctx)
}
