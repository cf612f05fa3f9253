// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/pump"
)

type playOptions struct {
	udp          string
	window       int
	chunkPackets int
	info         bool
}

func newPlayCmd() *cobra.Command {
	var opts playOptions
	cmd := &cobra.Command{
		Use:   "play FILE",
		Short: "Replay a recording in real time",
		Long: `Play paces a recorded transport stream by its timestamps and writes it
to stdout, or to a UDP destination with --udp. With --info it only prints
the recording's duration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.info {
				return printDuration(cmd.OutOrStdout(), args[0])
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return play(ctx, cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.udp, "udp", "", "send to host:port over UDP instead of stdout")
	cmd.Flags().IntVar(&opts.window, "window", 256, "per-PID look-ahead in packets")
	cmd.Flags().IntVar(&opts.chunkPackets, "chunk-packets", 7, "packets sent per chunk")
	cmd.Flags().BoolVar(&opts.info, "info", false, "print the duration and exit")
	return cmd
}

func printDuration(out io.Writer, path string) error {
	d, err := pump.Duration(path)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\t%.3fs\n", path, d.Seconds())
	return err
}

func play(ctx context.Context, out io.Writer, path string, opts playOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var tx pump.Sender = pump.WriterSender{W: out}
	if opts.udp != "" {
		udp, err := pump.DialUDP(opts.udp)
		if err != nil {
			return err
		}
		defer func() { _ = udp.Close() }()
		tx = udp
	}

	p := pump.NewPlayback(f, tx, pump.PlaybackConfig{
		Window:       opts.window,
		ChunkPackets: opts.chunkPackets,
		Logger:       xglog.WithComponent("play"),
	})
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
