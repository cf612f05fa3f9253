// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tvd/internal/app/bootstrap"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/config"
)

type scanOptions struct {
	source      string
	transponder int
	all         bool
}

func newScanCmd() *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan transponders once and print the services found",
		Long: `Scan tunes each selected transponder, reads its tables into the catalog
and prints the resulting services. Without --transponder, the New
transponders of --source are scanned (or all of them with --all).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runScan(ctx, cmd.OutOrStdout(), configPath(cmd), opts)
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", "", "source name to scan")
	cmd.Flags().IntVar(&opts.transponder, "transponder", 0, "single transponder id to scan")
	cmd.Flags().BoolVar(&opts.all, "all", false, "rescan transponders that were scanned before")
	return cmd
}

func runScan(ctx context.Context, out io.Writer, path string, opts scanOptions) error {
	cfg, err := config.NewLoader(path, version).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.IdleScan.Enabled = false

	c, err := bootstrap.Wire(ctx, cfg, bootstrap.Options{Version: version, Devices: devices})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(context.WithoutCancel(ctx)) }()

	tids, err := selectTransponders(c.Catalog, opts)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRANSPONDER\tSTATE\tTSID\tSID\tTYPE\tNAME")
	failed := 0
	for _, tid := range tids {
		info, err := c.Control.Scan(ctx, tid)
		if err != nil {
			return err
		}
		if info, err = c.Control.Wait(ctx, info.ID); err != nil {
			return err
		}
		if info.Error != "" {
			failed++
		}
		tp, _ := c.Catalog.Transponder(tid)
		printTransponder(tw, tp)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scans failed", failed, len(tids))
	}
	return nil
}

func selectTransponders(cat *catalog.Catalog, opts scanOptions) ([]catalog.TransponderID, error) {
	if opts.transponder != 0 {
		tid := catalog.TransponderID(opts.transponder)
		if _, ok := cat.Transponder(tid); !ok {
			return nil, fmt.Errorf("transponder %d: %w", tid, catalog.ErrNotFound)
		}
		return []catalog.TransponderID{tid}, nil
	}
	if opts.source == "" {
		return nil, fmt.Errorf("one of --source or --transponder is required")
	}
	src, ok := cat.SourceByName(opts.source)
	if !ok {
		return nil, fmt.Errorf("source %q: %w", opts.source, catalog.ErrNotFound)
	}
	var tids []catalog.TransponderID
	for _, tp := range cat.Transponders(src.ID) {
		if opts.all || tp.State == catalog.TransponderNew {
			tids = append(tids, tp.ID)
		}
	}
	return tids, nil
}

func printTransponder(w io.Writer, tp catalog.Transponder) {
	if len(tp.Services) == 0 {
		fmt.Fprintf(w, "%d\t%s\t%d\t-\t-\t-\n", tp.ID, tp.State, tp.TSID)
		return
	}
	sids := make([]int, 0, len(tp.Services))
	for sid := range tp.Services {
		sids = append(sids, int(sid))
	}
	sort.Ints(sids)
	for _, sid := range sids {
		svc := tp.Services[uint16(sid)]
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n", tp.ID, tp.State, tp.TSID, sid, svc.Type, svc.Name)
	}
}
