// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bootstrap

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/config"
	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/frontend"
	xglog "github.com/ManuGH/tvd/internal/log"
)

// wireSources makes sure every configured source exists and seeds it from its
// scan file. Sources restored from the store are reused by name.
func wireSources(ctx context.Context, cat *catalog.Catalog, sources []config.SourceConfig, logger zerolog.Logger) (map[string]catalog.SourceID, error) {
	ids := make(map[string]catalog.SourceID, len(sources))
	for _, sc := range sources {
		family, err := dvb.ParseFamily(sc.Type)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.Name, err)
		}
		var id catalog.SourceID
		if src, ok := cat.SourceByName(sc.Name); ok {
			if src.Family != family {
				return nil, fmt.Errorf("source %q: stored as %s, configured as %s: %w",
					sc.Name, src.Family, family, catalog.ErrFamilyMismatch)
			}
			id = src.ID
		} else {
			id, err = cat.AddSource(ctx, sc.Name, family)
			if err != nil {
				return nil, fmt.Errorf("source %q: %w", sc.Name, err)
			}
		}
		ids[sc.Name] = id

		if sc.ScanFile == "" {
			continue
		}
		n, err := readScanfile(ctx, cat, id, sc.ScanFile)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.Name, err)
		}
		logger.Info().
			Str(xglog.FieldEvent, "source.scanfile_loaded").
			Str(xglog.FieldSource, sc.Name).
			Str(xglog.FieldPath, sc.ScanFile).
			Int("added", n).
			Msg("scan file loaded")
	}
	return ids, nil
}

func readScanfile(ctx context.Context, cat *catalog.Catalog, id catalog.SourceID, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open scan file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return cat.ReadScanfile(ctx, id, f)
}

// wireFrontends registers one frontend per configured adapter, with its ports
// attached in ordinal order.
func wireFrontends(cat *catalog.Catalog, cfg config.AppConfig, sources map[string]catalog.SourceID, devices DeviceFactory) (*frontend.Registry, error) {
	reg := frontend.NewRegistry()
	for _, ac := range cfg.Adapters {
		sys, err := dvb.ParseDeliverySystem(ac.DeliverySystem)
		if err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("adapter %d/%d: %w", ac.Adapter, ac.Frontend, err)
		}
		fe := frontend.New(
			frontend.ID{Adapter: ac.Adapter, Frontend: ac.Frontend},
			sys.Family(),
			devices(ac.Adapter, ac.Frontend),
			cat,
			frontend.WithPollInterval(cfg.Tuning.PollInterval),
		)

		ports := append([]config.PortConfig(nil), ac.Ports...)
		sort.SliceStable(ports, func(i, j int) bool { return ports[i].Ordinal < ports[j].Ordinal })
		for _, pc := range ports {
			src, ok := sources[pc.Source]
			if !ok {
				_ = reg.Close()
				return nil, fmt.Errorf("adapter %d/%d: unknown source %q", ac.Adapter, ac.Frontend, pc.Source)
			}
			var lnb *frontend.LNB
			if sys.Family() == dvb.FamilySatellite {
				lnb = ac.LNB
				if lnb == nil {
					universal := frontend.UniversalLNB
					lnb = &universal
				}
			}
			fe.AddPort(src, lnb)
		}
		if err := reg.Add(fe); err != nil {
			_ = reg.Close()
			return nil, err
		}
	}
	return reg, nil
}
