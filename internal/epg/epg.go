// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package epg reads event information tables into the catalog guide and
// writes the guide as XMLTV.
package epg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/metrics"
	"github.com/ManuGH/tvd/internal/psi"
)

// DefaultWindow is how long EIT sections are collected per transponder.
const DefaultWindow = 10 * time.Second

type Config struct {
	Window time.Duration
}

// Result summarises one guide read.
type Result struct {
	Sections int `json:"sections"`
	Events   int `json:"events"`
	Channels int `json:"channels"`
}

// Updater reads the guide of tuned transponders. It implements
// activity.Performer.
type Updater struct {
	cat    *catalog.Catalog
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

func New(cat *catalog.Catalog, cfg Config) *Updater {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Updater{cat: cat, cfg: cfg, now: time.Now, logger: xglog.WithComponent("epg")}
}

func (u *Updater) Kind() activity.Kind { return activity.KindEPG }

func (u *Updater) Perform(ctx context.Context, run *activity.Run) error {
	_, err := u.Update(ctx, run.Lease, run.Transponder)
	return err
}

type sectionKey struct {
	table   byte
	service uint16
	number  byte
	version byte
}

// Update collects EIT sections of transponder tid for the configured window
// and replaces the guide of every channel carried on it. A cancelled read
// still stores what arrived but leaves the transponder due for another read.
func (u *Updater) Update(ctx context.Context, demux dvb.Opener, tid catalog.TransponderID) (Result, error) {
	var res Result
	if _, ok := u.cat.Transponder(tid); !ok {
		return res, fmt.Errorf("%w: transponder %d", catalog.ErrNotFound, tid)
	}
	logger := u.logger.With().Int(xglog.FieldTransponder, int(tid)).Logger()

	flt, err := demux.OpenFilter(psi.PIDEIT)
	if err != nil {
		metrics.IncEPGUpdate("error")
		return res, fmt.Errorf("epg: open eit filter: %w", err)
	}

	seen := make(map[sectionKey]bool)
	guide := make(map[uint16]map[uint16]catalog.Event)
	readErr := psi.ReadSections(ctx, flt, u.cfg.Window, func(s psi.Section) bool {
		if !psi.IsEIT(s.TableID) {
			return false
		}
		key := sectionKey{table: s.TableID, service: s.Ext, number: s.SectionNumber, version: s.Version}
		if seen[key] {
			return false
		}
		seen[key] = true
		eit, err := psi.ParseEIT(s)
		if err != nil {
			logger.Debug().Err(err).Uint16(xglog.FieldServiceID, s.Ext).Msg("skipping eit section")
			return false
		}
		res.Sections++
		events := guide[eit.ServiceID]
		if events == nil {
			events = make(map[uint16]catalog.Event)
			guide[eit.ServiceID] = events
		}
		for _, ev := range eit.Events {
			if e, ok := toEvent(ev); ok {
				events[e.ID] = e
			}
		}
		return false
	})
	if readErr != nil && !errors.Is(readErr, psi.ErrTimeout) && ctx.Err() == nil {
		metrics.IncEPGUpdate("error")
		return res, fmt.Errorf("epg: read eit: %w", readErr)
	}

	for sid, events := range guide {
		list := make([]catalog.Event, 0, len(events))
		for _, e := range events {
			list = append(list, e)
		}
		if _, ok := u.cat.SetServiceEvents(catalog.ServiceKey{Transponder: tid, Service: sid}, list); ok {
			res.Channels++
			res.Events += len(list)
		}
	}
	if ctx.Err() == nil {
		u.cat.MarkEPG(tid, u.now())
	}
	metrics.AddEPGEvents(res.Events)

	result := "ok"
	if res.Events == 0 {
		result = "empty"
	}
	metrics.IncEPGUpdate(result)
	logger.Info().
		Str(xglog.FieldEvent, "epg.updated").
		Int("sections", res.Sections).
		Int("events", res.Events).
		Int("channels", res.Channels).
		Msg("programme guide read")
	return res, ctx.Err()
}

// toEvent keeps events with a defined start and a name.
func toEvent(ev psi.EITEvent) (catalog.Event, bool) {
	if ev.Start.IsZero() {
		return catalog.Event{}, false
	}
	se, ok := ev.Short()
	if !ok || se.Name == "" {
		return catalog.Event{}, false
	}
	e := catalog.Event{
		ID:          ev.ID,
		Start:       ev.Start,
		End:         ev.Start.Add(ev.Duration),
		Name:        se.Name,
		Description: se.Text,
		Language:    se.Language,
	}
	if e.Description == e.Name {
		e.Description = ""
	}
	return e, true
}
