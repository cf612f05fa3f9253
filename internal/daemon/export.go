// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/bus"
	"github.com/ManuGH/tvd/internal/catalog"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/store"
)

// Exporter rewrites channels.json, channels.m3u and guide.xml in Dir once
// at start and after every scan or guide read that ends.
type Exporter struct {
	Catalog *catalog.Catalog
	Bus     bus.Bus
	Dir     string
	BaseURL string
}

func (e *Exporter) Run(ctx context.Context) error {
	sub, err := e.Bus.Subscribe(ctx, bus.TopicActivityState)
	if err != nil {
		return fmt.Errorf("export: subscribe: %w", err)
	}
	defer sub.Close()

	e.export(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			ch, isChange := msg.(activity.StateChange)
			if !isChange || !ch.To.Terminal() {
				continue
			}
			switch ch.Kind {
			case activity.KindScan:
				e.export(ctx)
			case activity.KindEPG:
				e.exportGuide(ctx)
			}
		}
	}
}

func (e *Exporter) export(ctx context.Context) {
	e.exportChannels(ctx)
	e.exportGuide(ctx)
}

func (e *Exporter) exportChannels(ctx context.Context) {
	logger := xglog.WithComponent("export")
	if err := store.ExportChannels(ctx, e.Dir, e.Catalog, e.BaseURL); err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "export.failed").
			Str(xglog.FieldPath, e.Dir).
			Msg("channel export failed")
		return
	}
	logger.Debug().
		Str(xglog.FieldEvent, "export.written").
		Str(xglog.FieldPath, e.Dir).
		Msg("channel list exported")
}

func (e *Exporter) exportGuide(ctx context.Context) {
	logger := xglog.WithComponent("export")
	if err := store.ExportGuide(ctx, e.Dir, e.Catalog, time.Now()); err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "export.guide_failed").
			Str(xglog.FieldPath, e.Dir).
			Msg("guide export failed")
		return
	}
	logger.Debug().
		Str(xglog.FieldEvent, "export.guide_written").
		Str(xglog.FieldPath, e.Dir).
		Msg("guide exported")
}
