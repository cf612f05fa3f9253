// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package activity runs units of tuner work (scan, record, stream) on their
// own goroutine. An activity tunes a frontend for its target, hands the lease
// to a Performer, and releases the frontend on every exit path.
package activity

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tvd/internal/bus"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/frontend"
	"github.com/ManuGH/tvd/internal/fsm"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/metrics"
	"github.com/ManuGH/tvd/internal/telemetry"
)

var (
	ErrAlreadyStarted = errors.New("activity: already started")
	ErrNoTarget       = errors.New("activity: needs exactly one of channel or transponder")
	ErrNoFrontend     = errors.New("activity: no frontend can tune target")
	ErrPanic          = errors.New("activity: perform panicked")
)

const DefaultTuneTimeout = 3 * time.Second

type State string

const (
	StateNew      State = "new"
	StateStart    State = "start"
	StateStarting State = "starting"
	StateStarted  State = "started"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

type event string

const (
	evSchedule event = "schedule"
	evLaunch   event = "launch"
	evBegin    event = "begin"
	evSucceed  event = "succeed"
	evFail     event = "fail"
)

var lifecycle = []fsm.Transition[State, event]{
	{From: StateNew, Event: evSchedule, To: StateStart},
	{From: StateStart, Event: evLaunch, To: StateStarting},
	{From: StateStart, Event: evFail, To: StateFailed},
	{From: StateStarting, Event: evBegin, To: StateStarted},
	{From: StateStarting, Event: evFail, To: StateFailed},
	{From: StateStarted, Event: evSucceed, To: StateDone},
	{From: StateStarted, Event: evFail, To: StateFailed},
}

type Kind string

const (
	KindScan   Kind = "scan"
	KindRecord Kind = "record"
	KindStream Kind = "stream"
	KindEPG    Kind = "epg"
)

// Target names what to tune: a channel (its services are tried in order) or
// a transponder.
type Target struct {
	Channel     catalog.ChannelID     `json:"channel,omitempty"`
	Transponder catalog.TransponderID `json:"transponder,omitempty"`
}

func (t Target) valid() bool { return (t.Channel != 0) != (t.Transponder != 0) }

// Run is what a Performer gets once the frontend is tuned.
type Run struct {
	ID          string
	Lease       *frontend.Lease
	Transponder catalog.TransponderID
	// Service is zero for transponder targets.
	Service catalog.ServiceKey
	Logger  zerolog.Logger
}

// Performer does the activity's work on a tuned frontend.
type Performer interface {
	Kind() Kind
	Perform(ctx context.Context, run *Run) error
}

// FrontendFinder returns the frontends able to receive source.
type FrontendFinder interface {
	ForSource(source catalog.SourceID) []*frontend.Frontend
}

// Deps are the collaborators shared by all activities.
type Deps struct {
	Catalog     *catalog.Catalog
	Frontends   FrontendFinder
	Bus         bus.Bus
	TuneTimeout time.Duration
}

// StateChange is published on bus.TopicActivityState.
type StateChange struct {
	ID     string    `json:"id"`
	Kind   Kind      `json:"kind"`
	Target Target    `json:"target"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Options tweak one activity.
type Options struct {
	// Idle marks background scans; the frontend shows ScanEPG while they run.
	Idle bool
}

// Activity is one unit of tuner work.
type Activity struct {
	id     string
	target Target
	perf   Performer
	deps   Deps
	opts   Options
	fsm    *fsm.Machine[State, event]
	logger zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	frontend *frontend.ID
	service  catalog.ServiceKey
	started  time.Time
	finished time.Time
}

// New creates an activity in state New.
func New(target Target, perf Performer, deps Deps, opts ...Options) (*Activity, error) {
	if !target.valid() {
		return nil, ErrNoTarget
	}
	if deps.TuneTimeout <= 0 {
		deps.TuneTimeout = DefaultTuneTimeout
	}
	a := &Activity{
		id:     uuid.NewString(),
		target: target,
		perf:   perf,
		deps:   deps,
		fsm:    fsm.MustNew(StateNew, lifecycle),
		done:   make(chan struct{}),
	}
	if len(opts) > 0 {
		a.opts = opts[0]
	}
	a.logger = xglog.WithComponent("activity").With().
		Str(xglog.FieldActivityID, a.id).
		Str(xglog.FieldKind, string(perf.Kind())).
		Logger()
	a.fsm.Observe(a.onTransition)
	return a, nil
}

func (a *Activity) ID() string     { return a.id }
func (a *Activity) Kind() Kind     { return a.perf.Kind() }
func (a *Activity) Target() Target { return a.target }
func (a *Activity) State() State   { return a.fsm.State() }

// Err returns the error Perform (or resolution) ended with.
func (a *Activity) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Frontend returns the frontend used, once resolved.
func (a *Activity) Frontend() (frontend.ID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frontend == nil {
		return frontend.ID{}, false
	}
	return *a.frontend, true
}

// Service returns the service tuned for channel targets.
func (a *Activity) Service() catalog.ServiceKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.service
}

// Done is closed when the goroutine has finished.
func (a *Activity) Done() <-chan struct{} { return a.done }

func (a *Activity) onTransition(from, to State, _ event) {
	a.logger.Info().
		Str(xglog.FieldEvent, "activity.state").
		Str(xglog.FieldOldState, string(from)).
		Str(xglog.FieldNewState, string(to)).
		Msg("activity state changed")

	switch {
	case to == StateStarted:
		metrics.ActivityStarted(string(a.Kind()))
	case to.Terminal() && from == StateStarted:
		metrics.ActivityFinished(string(a.Kind()), string(to))
	}

	if a.deps.Bus == nil {
		return
	}
	msg := StateChange{ID: a.id, Kind: a.Kind(), Target: a.target, From: from, To: to, At: time.Now()}
	if err := a.Err(); err != nil && to.Terminal() {
		msg.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = a.deps.Bus.Publish(ctx, bus.TopicActivityState, msg)
}

// Schedule marks a New activity as scheduled.
func (a *Activity) Schedule() error {
	if _, err := a.fsm.Fire(context.Background(), evSchedule); err != nil {
		return fmt.Errorf("%w: %v", ErrAlreadyStarted, err)
	}
	return nil
}

// Start launches the activity goroutine. ctx bounds the whole run.
func (a *Activity) Start(ctx context.Context) error {
	if a.fsm.State() == StateNew {
		if err := a.Schedule(); err != nil {
			return err
		}
	}
	if _, err := a.fsm.Fire(ctx, evLaunch); err != nil {
		return fmt.Errorf("%w: %v", ErrAlreadyStarted, err)
	}

	runCtx, cancel := context.WithCancel(xglog.ContextWithActivityID(ctx, a.id))
	a.mu.Lock()
	a.cancel = cancel
	a.started = time.Now()
	a.mu.Unlock()

	go a.run(runCtx)
	return nil
}

// Stop cancels the activity. It returns immediately.
func (a *Activity) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the goroutine finishes or ctx ends.
func (a *Activity) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the activity and blocks until its goroutine has finished.
// Calling Close from inside Perform deadlocks.
func (a *Activity) Close() error {
	a.Stop()
	a.mu.Lock()
	launched := a.cancel != nil
	a.mu.Unlock()
	if !launched {
		return nil
	}
	<-a.done
	return nil
}

func (a *Activity) run(ctx context.Context) {
	defer close(a.done)
	defer a.Stop()

	if _, err := a.fsm.Fire(ctx, evBegin); err != nil {
		a.finish(ctx, err)
		return
	}

	ctx, span := telemetry.Start(ctx, "tvd/activity", "activity.run",
		telemetry.ActivityAttributes(a.id, string(a.Kind()))...)
	err := a.execute(ctx)
	telemetry.End(span, err)
	a.finish(ctx, err)
}

// execute tunes the target and runs Perform. The lease is released on every
// path, including a panic in Perform.
func (a *Activity) execute(ctx context.Context) (err error) {
	run, err := a.resolve(ctx)
	if err != nil {
		return err
	}
	defer run.Lease.Release()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().
				Str(xglog.FieldEvent, "activity.panic").
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("perform panicked")
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	if a.opts.Idle {
		if err := run.Lease.EnterIdleScan(ctx); err != nil {
			return err
		}
	}
	return a.perf.Perform(ctx, run)
}

func (a *Activity) finish(ctx context.Context, err error) {
	a.mu.Lock()
	a.err = err
	a.finished = time.Now()
	a.mu.Unlock()

	ev := evSucceed
	if err != nil {
		ev = evFail
		a.logger.Error().Err(err).Str(xglog.FieldEvent, "activity.failed").Msg("activity failed")
	}
	_, _ = a.fsm.Fire(context.WithoutCancel(ctx), ev)
}

// Info is a read-only snapshot for listings.
type Info struct {
	ID       string             `json:"id"`
	Kind     Kind               `json:"kind"`
	State    State              `json:"state"`
	Target   Target             `json:"target"`
	Frontend *frontend.ID       `json:"frontend,omitempty"`
	Service  catalog.ServiceKey `json:"service"`
	Error    string             `json:"error,omitempty"`
	Started  time.Time          `json:"started,omitempty"`
	Finished time.Time          `json:"finished,omitempty"`
}

func (a *Activity) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	info := Info{
		ID:       a.id,
		Kind:     a.perf.Kind(),
		State:    a.fsm.State(),
		Target:   a.target,
		Service:  a.service,
		Started:  a.started,
		Finished: a.finished,
	}
	if a.frontend != nil {
		id := *a.frontend
		info.Frontend = &id
	}
	if a.err != nil {
		info.Error = a.err.Error()
	}
	return info
}
