// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/cam"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/epg"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/pump"
	"github.com/ManuGH/tvd/internal/scan"
)

const defaultHistory = 64

// ControlConfig tunes a Control.
type ControlConfig struct {
	// StreamRateBPS caps each live stream's output; zero is unlimited.
	StreamRateBPS int
	// IdleInterval is the idle-scan cadence; zero disables idle scanning.
	IdleInterval time.Duration
	// History is how many finished activities stay listed.
	History int
	// EPGWindow is how long each guide read collects sections.
	EPGWindow time.Duration
	// EPGInterval is how old a transponder's guide may get before an idle
	// frontend reads it again; zero disables idle guide reads.
	EPGInterval time.Duration
}

// Control launches and tracks on-demand activities: scans triggered through
// the API, live streams and the per-frontend idle scans and guide reads.
type Control struct {
	deps    activity.Deps
	scanner *scan.Engine
	guide   *epg.Updater
	cams    *cam.Registry
	cfg     ControlConfig
	logger  zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	scans  singleflight.Group
	reads  singleflight.Group

	mu      sync.Mutex
	running map[string]*activity.Activity
	history []activity.Info
	closed  bool
}

func NewControl(deps activity.Deps, scanner *scan.Engine, cams *cam.Registry, cfg ControlConfig) *Control {
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	base, cancel := context.WithCancel(context.Background())
	return &Control{
		deps:    deps,
		scanner: scanner,
		guide:   epg.New(deps.Catalog, epg.Config{Window: cfg.EPGWindow}),
		cams:    cams,
		cfg:     cfg,
		logger:  xglog.WithComponent("control"),
		base:    base,
		cancel:  cancel,
		running: make(map[string]*activity.Activity),
	}
}

// Activities lists running activities oldest first, then finished ones
// newest first.
func (c *Control) Activities() []activity.Info {
	c.mu.Lock()
	running := make([]activity.Info, 0, len(c.running))
	for _, a := range c.running {
		running = append(running, a.Info())
	}
	done := make([]activity.Info, 0, len(c.history))
	for i := len(c.history) - 1; i >= 0; i-- {
		done = append(done, c.history[i])
	}
	c.mu.Unlock()

	sort.Slice(running, func(i, j int) bool {
		if running[i].Started.Equal(running[j].Started) {
			return running[i].ID < running[j].ID
		}
		return running[i].Started.Before(running[j].Started)
	})
	return append(running, done...)
}

// Scan starts a scan of tid, or returns the one already running. The scan
// outlives ctx.
func (c *Control) Scan(ctx context.Context, tid catalog.TransponderID) (activity.Info, error) {
	if _, ok := c.deps.Catalog.Transponder(tid); !ok {
		return activity.Info{}, fmt.Errorf("%w: transponder %d", catalog.ErrNotFound, tid)
	}
	v, err, _ := c.scans.Do(strconv.Itoa(int(tid)), func() (any, error) {
		if a := c.runningOn(activity.KindScan, tid); a != nil {
			c.logger.Debug().
				Str(xglog.FieldEvent, "scan.joined").
				Int(xglog.FieldTransponder, int(tid)).
				Str(xglog.FieldActivityID, a.ID()).
				Msg("scan already running")
			return a.Info(), nil
		}
		a, err := c.launch(c.base, activity.Target{Transponder: tid}, c.scanner, c.deps, activity.Options{})
		if err != nil {
			return nil, err
		}
		return a.Info(), nil
	})
	if err != nil {
		return activity.Info{}, err
	}
	return v.(activity.Info), nil
}

// UpdateEPG starts a guide read of tid, or returns the one already running.
// The read outlives ctx.
func (c *Control) UpdateEPG(ctx context.Context, tid catalog.TransponderID) (activity.Info, error) {
	if _, ok := c.deps.Catalog.Transponder(tid); !ok {
		return activity.Info{}, fmt.Errorf("%w: transponder %d", catalog.ErrNotFound, tid)
	}
	v, err, _ := c.reads.Do(strconv.Itoa(int(tid)), func() (any, error) {
		if a := c.runningOn(activity.KindEPG, tid); a != nil {
			return a.Info(), nil
		}
		a, err := c.launch(c.base, activity.Target{Transponder: tid}, c.guide, c.deps, activity.Options{})
		if err != nil {
			return nil, err
		}
		return a.Info(), nil
	})
	if err != nil {
		return activity.Info{}, err
	}
	return v.(activity.Info), nil
}

// Stream pumps channel ch to out until ctx ends or the stream fails.
func (c *Control) Stream(ctx context.Context, ch catalog.ChannelID, out pump.Sender) error {
	if _, ok := c.deps.Catalog.Channel(ch); !ok {
		return fmt.Errorf("%w: channel %d", catalog.ErrNotFound, ch)
	}
	perf := &pump.Stream{
		Catalog: c.deps.Catalog,
		CAMs:    c.cams,
		Out:     out,
		RateBPS: c.cfg.StreamRateBPS,
	}
	a, err := c.launch(ctx, activity.Target{Channel: ch}, perf, c.deps, activity.Options{})
	if err != nil {
		return err
	}
	<-a.Done()
	if err := a.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Wait blocks until activity id has finished or ctx ends and returns its
// final snapshot.
func (c *Control) Wait(ctx context.Context, id string) (activity.Info, error) {
	c.mu.Lock()
	a, ok := c.running[id]
	c.mu.Unlock()
	if !ok {
		for _, info := range c.Activities() {
			if info.ID == id {
				return info, nil
			}
		}
		return activity.Info{}, fmt.Errorf("%w: activity %s", catalog.ErrNotFound, id)
	}
	select {
	case <-a.Done():
		return a.Info(), nil
	case <-ctx.Done():
		return a.Info(), ctx.Err()
	}
}

func (c *Control) runningOn(kind activity.Kind, tid catalog.TransponderID) *activity.Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.running {
		if a.Kind() == kind && a.Target().Transponder == tid {
			return a
		}
	}
	return nil
}

// launch registers and starts an activity bounded by ctx.
func (c *Control) launch(ctx context.Context, target activity.Target, perf activity.Performer, deps activity.Deps, opts activity.Options) (*activity.Activity, error) {
	a, err := activity.New(target, perf, deps, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrControlClosed
	}
	c.running[a.ID()] = a
	c.wg.Add(1)
	c.mu.Unlock()

	if err := a.Start(ctx); err != nil {
		c.mu.Lock()
		delete(c.running, a.ID())
		c.mu.Unlock()
		c.wg.Done()
		return nil, err
	}
	go c.reap(a)
	return a, nil
}

func (c *Control) reap(a *activity.Activity) {
	defer c.wg.Done()
	<-a.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, a.ID())
	c.history = append(c.history, a.Info())
	if over := len(c.history) - c.cfg.History; over > 0 {
		c.history = append(c.history[:0], c.history[over:]...)
	}
}

// Close stops every running activity and waits for them to finish.
func (c *Control) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running := make([]*activity.Activity, 0, len(c.running))
	for _, a := range c.running {
		running = append(running, a)
	}
	c.mu.Unlock()

	c.cancel()
	for _, a := range running {
		a.Stop()
	}
	c.wg.Wait()
	return nil
}
