// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recorder starts and stops scheduled recordings.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/cam"
	"github.com/ManuGH/tvd/internal/catalog"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/metrics"
	"github.com/ManuGH/tvd/internal/pump"
)

const (
	DefaultWindow   = 130 * time.Minute
	DefaultInterval = time.Second
)

var (
	ErrNotFound      = errors.New("recorder: recording not found")
	ErrInvalidWindow = errors.New("recorder: end must be after start")
)

// Store persists the schedule.
type Store interface {
	SaveRecording(ctx context.Context, r catalog.Recording) error
	DeleteRecording(ctx context.Context, id string) error
	LoadRecordings(ctx context.Context) ([]catalog.Recording, error)
}

// Clock interface for mocking time
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Config struct {
	Dir           string
	DefaultWindow time.Duration
	Interval      time.Duration
}

type entry struct {
	rec catalog.Recording
	act *activity.Activity
}

// Recorder owns the recording schedule. Run checks it once per interval,
// starting recordings whose window has opened.
type Recorder struct {
	cfg    Config
	deps   activity.Deps
	cams   *cam.Registry
	store  Store
	clock  Clock
	logger zerolog.Logger

	mu   sync.Mutex
	recs map[string]*entry
}

func New(cfg Config, deps activity.Deps, cams *cam.Registry, store Store) *Recorder {
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = DefaultWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Recorder{
		cfg:    cfg,
		deps:   deps,
		cams:   cams,
		store:  store,
		clock:  realClock{},
		logger: xglog.WithComponent("recorder"),
		recs:   make(map[string]*entry),
	}
}

// Load restores the persisted schedule. Recordings that were running when
// the process stopped are marked failed.
func (r *Recorder) Load(ctx context.Context) error {
	recs, err := r.store.LoadRecordings(ctx)
	if err != nil {
		return fmt.Errorf("load recordings: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		if rec.State == catalog.RecordingRunning {
			rec.State = catalog.RecordingFailed
			r.save(ctx, rec)
		}
		r.recs[rec.ID] = &entry{rec: rec}
	}
	return nil
}

// Schedule adds rec to the schedule. A missing id is generated.
func (r *Recorder) Schedule(ctx context.Context, rec catalog.Recording) (catalog.Recording, error) {
	ch, ok := r.deps.Catalog.Channel(rec.Channel)
	if !ok {
		return rec, fmt.Errorf("%w: channel %d", catalog.ErrNotFound, rec.Channel)
	}
	if rec.EventID != 0 {
		ev, ok := r.event(rec.Channel, rec.EventID)
		if !ok {
			return rec, fmt.Errorf("%w: event %d on channel %d", catalog.ErrNotFound, rec.EventID, rec.Channel)
		}
		rec.Start, rec.End = ev.Start, ev.End
		if rec.Name == "" {
			rec.Name = ev.Name
		}
	}
	if !rec.End.After(rec.Start) {
		return rec, ErrInvalidWindow
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Name == "" {
		rec.Name = ch.Name
	}
	rec.State = catalog.RecordingScheduled
	rec.Filename = ""

	r.mu.Lock()
	r.recs[rec.ID] = &entry{rec: rec}
	r.mu.Unlock()
	if err := r.store.SaveRecording(ctx, rec); err != nil {
		return rec, fmt.Errorf("save recording: %w", err)
	}
	r.logger.Info().
		Str(xglog.FieldEvent, "recorder.scheduled").
		Str("recording", rec.ID).
		Str(xglog.FieldChannel, rec.Name).
		Time("start", rec.Start).
		Time("end", rec.End).
		Msg("recording scheduled")
	return rec, nil
}

func (r *Recorder) event(ch catalog.ChannelID, id int) (catalog.Event, bool) {
	if id < 0 || id > 0xFFFF {
		return catalog.Event{}, false
	}
	return r.deps.Catalog.Event(ch, uint16(id))
}

// RecordNow schedules channel from now for the default window. The next
// check starts it.
func (r *Recorder) RecordNow(ctx context.Context, channel catalog.ChannelID) (catalog.Recording, error) {
	now := r.clock.Now()
	return r.Schedule(ctx, catalog.Recording{Channel: channel, Start: now, End: now.Add(r.cfg.DefaultWindow)})
}

// Cancel stops a running recording and removes it from the schedule.
func (r *Recorder) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.recs[id]
	if ok {
		delete(r.recs, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if e.act != nil {
		_ = e.act.Close()
	}
	return r.store.DeleteRecording(ctx, id)
}

// Get returns one recording.
func (r *Recorder) Get(id string) (catalog.Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.recs[id]
	if !ok {
		return catalog.Recording{}, false
	}
	return e.rec, true
}

// List returns the schedule ordered by start time.
func (r *Recorder) List() []catalog.Recording {
	r.mu.Lock()
	out := make([]catalog.Recording, 0, len(r.recs))
	for _, e := range r.recs {
		out = append(out, e.rec)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Run checks the schedule every interval until ctx ends, then stops the
// running recordings.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Info().Str(xglog.FieldEvent, "recorder.start").Msg("recorder started")
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	defer r.stopAll()

	for {
		r.Tick(ctx)
		select {
		case <-ctx.Done():
			r.logger.Info().Str(xglog.FieldEvent, "recorder.stop").Msg("recorder stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick starts due recordings and collects finished ones.
func (r *Recorder) Tick(ctx context.Context) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, e := range r.recs {
		switch e.rec.State {
		case catalog.RecordingScheduled:
			if now.Before(e.rec.Start) {
				continue
			}
			if !now.Before(e.rec.End) {
				r.logger.Warn().Str(xglog.FieldEvent, "recorder.missed").Str("recording", e.rec.ID).Msg("recording window passed")
				e.rec.State = catalog.RecordingFailed
				r.save(ctx, e.rec)
				continue
			}
			r.start(ctx, e)
			if e.act != nil {
				active++
			}
		case catalog.RecordingRunning:
			if e.act == nil {
				continue
			}
			select {
			case <-e.act.Done():
				r.finish(ctx, e)
			default:
				active++
			}
		}
	}
	metrics.SetRecordingsActive(active)
}

// start is called with r.mu held.
func (r *Recorder) start(ctx context.Context, e *entry) {
	id := e.rec.ID
	perf := &pump.Record{
		Catalog: r.deps.Catalog,
		CAMs:    r.cams,
		Dir:     r.cfg.Dir,
		Name:    e.rec.Name,
		End:     e.rec.End,
		OnFile:  func(path string) { r.setFilename(context.WithoutCancel(ctx), id, path) },
	}
	act, err := activity.New(activity.Target{Channel: e.rec.Channel}, perf, r.deps)
	if err == nil {
		err = act.Start(ctx)
	}
	if err != nil {
		r.logger.Error().Err(err).Str(xglog.FieldEvent, "recorder.start_failed").Str("recording", id).Msg("cannot start recording")
		e.rec.State = catalog.RecordingFailed
		r.save(ctx, e.rec)
		return
	}
	e.act = act
	e.rec.State = catalog.RecordingRunning
	r.save(ctx, e.rec)
	r.logger.Info().
		Str(xglog.FieldEvent, "recorder.started").
		Str("recording", id).
		Str(xglog.FieldActivityID, act.ID()).
		Msg("recording started")
}

// finish is called with r.mu held.
func (r *Recorder) finish(ctx context.Context, e *entry) {
	e.rec.State = catalog.RecordingDone
	if err := e.act.Err(); err != nil {
		e.rec.State = catalog.RecordingFailed
	}
	e.act = nil
	r.save(ctx, e.rec)
	r.logger.Info().
		Str(xglog.FieldEvent, "recorder.finished").
		Str("recording", e.rec.ID).
		Str("state", string(e.rec.State)).
		Str("file", e.rec.Filename).
		Msg("recording finished")
}

func (r *Recorder) setFilename(ctx context.Context, id, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.recs[id]
	if !ok {
		return
	}
	e.rec.Filename = path
	r.save(ctx, e.rec)
}

func (r *Recorder) save(ctx context.Context, rec catalog.Recording) {
	if err := r.store.SaveRecording(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn().Err(err).Str(xglog.FieldEvent, "recorder.save_failed").Str("recording", rec.ID).Msg("cannot save recording")
	}
}

func (r *Recorder) stopAll() {
	r.mu.Lock()
	var acts []*entry
	for _, e := range r.recs {
		if e.act != nil {
			acts = append(acts, e)
		}
	}
	r.mu.Unlock()
	for _, e := range acts {
		_ = e.act.Close()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range acts {
		if e.act != nil {
			r.finish(context.Background(), e)
		}
	}
	metrics.SetRecordingsActive(0)
}
