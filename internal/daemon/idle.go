// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"time"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/frontend"
	xglog "github.com/ManuGH/tvd/internal/log"
)

// pinned restricts frontend selection to one frontend.
type pinned struct{ fe *frontend.Frontend }

func (p pinned) ForSource(source catalog.SourceID) []*frontend.Frontend {
	if _, err := p.fe.PortFor(source); err != nil {
		return nil
	}
	return []*frontend.Frontend{p.fe}
}

// RunIdle runs one idle activity per interval on fe while nothing else
// holds it. It returns when ctx ends.
func (c *Control) RunIdle(ctx context.Context, fe *frontend.Frontend) error {
	if c.cfg.IdleInterval <= 0 {
		return nil
	}
	logger := c.logger.With().
		Int(xglog.FieldAdapter, fe.ID().Adapter).
		Int(xglog.FieldFrontend, fe.ID().Frontend).
		Logger()
	logger.Debug().
		Str(xglog.FieldEvent, "idle_scan.start").
		Dur("interval", c.cfg.IdleInterval).
		Msg("idle scanner running")

	ticker := time.NewTicker(c.cfg.IdleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		c.IdleOnce(ctx, fe)
	}
}

// IdleOnce runs at most one idle activity on fe and waits for it: a scan
// of a New transponder, or else a guide read of the transponder whose guide
// is oldest. It reports whether an activity ran.
func (c *Control) IdleOnce(ctx context.Context, fe *frontend.Frontend) bool {
	if fe.Busy() {
		return false
	}
	for _, port := range fe.Ports() {
		if tid, ok := c.deps.Catalog.NextInState(port.Source, catalog.TransponderNew); ok {
			return c.runIdle(ctx, fe, tid, c.scanner)
		}
	}
	if c.cfg.EPGInterval <= 0 {
		return false
	}
	stale := time.Now().Add(-c.cfg.EPGInterval)
	for _, port := range fe.Ports() {
		if tid, ok := c.deps.Catalog.NextForEPG(port.Source, stale); ok {
			return c.runIdle(ctx, fe, tid, c.guide)
		}
	}
	return false
}

func (c *Control) runIdle(ctx context.Context, fe *frontend.Frontend, tid catalog.TransponderID, perf activity.Performer) bool {
	deps := c.deps
	deps.Frontends = pinned{fe: fe}
	a, err := c.launch(ctx, activity.Target{Transponder: tid}, perf, deps, activity.Options{Idle: true})
	if err != nil {
		c.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "idle.launch_failed").
			Str(xglog.FieldKind, string(perf.Kind())).
			Int(xglog.FieldAdapter, fe.ID().Adapter).
			Int(xglog.FieldFrontend, fe.ID().Frontend).
			Int(xglog.FieldTransponder, int(tid)).
			Msg("cannot start idle activity")
		return false
	}
	select {
	case <-a.Done():
	case <-ctx.Done():
		a.Stop()
		<-a.Done()
	}
	return true
}
