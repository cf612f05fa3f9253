// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package frontend owns the physical tuners: the per-tuner state machine, the
// exclusive lease that serialises activities, lock polling and demux access.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/fsm"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/metrics"
)

var (
	ErrTuneTimeout = errors.New("frontend: no lock before timeout")
	ErrNotTuned    = errors.New("frontend: not tuned")
	ErrReleased    = errors.New("frontend: lease already released")
	ErrClosed      = errors.New("frontend: shut down")
	ErrNoPort      = errors.New("frontend: no port for source")
)

const DefaultPollInterval = time.Second

// DefaultSECSettle is the pause after each DiSEqC bus operation.
const DefaultSECSettle = 15 * time.Millisecond

// State of a frontend.
type State string

const (
	StateNew     State = "new"
	StateReady   State = "ready"
	StateOpened  State = "opened"
	StateTuning  State = "tuning"
	StateScanEPG State = "scan_epg"
	StateLast    State = "last"
)

type event string

const (
	evIdentify   event = "identify"
	evOpen       event = "open"
	evClose      event = "close"
	evTune       event = "tune"
	evTuneFailed event = "tune_failed"
	evIdleScan   event = "idle_scan"
	evRelease    event = "release"
	evShutdown   event = "shutdown"
)

func transitions() []fsm.Transition[State, event] {
	ts := []fsm.Transition[State, event]{
		{From: StateNew, Event: evIdentify, To: StateReady},
		{From: StateReady, Event: evOpen, To: StateOpened},
		{From: StateOpened, Event: evOpen, To: StateOpened},
		{From: StateOpened, Event: evClose, To: StateReady},
		{From: StateReady, Event: evClose, To: StateReady},
		{From: StateOpened, Event: evTune, To: StateTuning},
		{From: StateTuning, Event: evTuneFailed, To: StateOpened},
		{From: StateTuning, Event: evIdleScan, To: StateScanEPG},
		{From: StateTuning, Event: evRelease, To: StateOpened},
		{From: StateScanEPG, Event: evRelease, To: StateOpened},
	}
	for _, s := range []State{StateNew, StateReady, StateOpened, StateTuning, StateScanEPG} {
		ts = append(ts, fsm.Transition[State, event]{From: s, Event: evShutdown, To: StateLast})
	}
	return ts
}

// ID identifies a frontend by adapter and frontend index.
type ID struct {
	Adapter  int `json:"adapter"`
	Frontend int `json:"frontend"`
}

func (id ID) String() string { return fmt.Sprintf("%d/%d", id.Adapter, id.Frontend) }

// Frontend drives one tuner. All tuning goes through a Lease obtained from
// Acquire; at most one lease exists at a time.
type Frontend struct {
	id     ID
	family dvb.Family
	dev    dvb.Device
	cat    *catalog.Catalog
	fsm    *fsm.Machine[State, event]
	sem    chan struct{}
	logger zerolog.Logger

	pollInterval time.Duration
	secSettle    time.Duration

	mu     sync.Mutex
	ports  []*Port
	tuned  catalog.TransponderID
	usage  int
	closed bool
}

// Option configures a Frontend.
type Option func(*Frontend)

// WithPollInterval sets the lock polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(f *Frontend) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithSECSettle sets the pause after each DiSEqC bus operation.
func WithSECSettle(d time.Duration) Option {
	return func(f *Frontend) {
		if d >= 0 {
			f.secSettle = d
		}
	}
}

// New returns a Ready frontend for dev.
func New(id ID, family dvb.Family, dev dvb.Device, cat *catalog.Catalog, opts ...Option) *Frontend {
	f := &Frontend{
		id:           id,
		family:       family,
		dev:          dev,
		cat:          cat,
		fsm:          fsm.MustNew(StateNew, transitions()),
		sem:          make(chan struct{}, 1),
		pollInterval: DefaultPollInterval,
		secSettle:    DefaultSECSettle,
		logger: xglog.WithComponent("frontend").With().
			Int(xglog.FieldAdapter, id.Adapter).
			Int(xglog.FieldFrontend, id.Frontend).
			Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.fsm.Observe(func(from, to State, ev event) {
		metrics.SetFrontendState(id.String(), string(to))
		f.logger.Debug().
			Str(xglog.FieldEvent, "frontend.state").
			Str(xglog.FieldOldState, string(from)).
			Str(xglog.FieldNewState, string(to)).
			Msg("frontend state changed")
	})
	_, _ = f.fsm.Fire(context.Background(), evIdentify)
	return f
}

func (f *Frontend) ID() ID             { return f.id }
func (f *Frontend) Family() dvb.Family { return f.family }
func (f *Frontend) State() State       { return f.fsm.State() }

// Usage returns how many leases have been granted.
func (f *Frontend) Usage() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage
}

// Tuned returns the transponder currently bound, if any.
func (f *Frontend) Tuned() (catalog.TransponderID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tuned, f.tuned != 0
}

// Busy reports whether a lease is held.
func (f *Frontend) Busy() bool { return len(f.sem) > 0 }

// AddPort attaches an input for source. lnb may be nil for non-satellite inputs.
func (f *Frontend) AddPort(source catalog.SourceID, lnb *LNB) *Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &Port{Frontend: f.id, Ordinal: len(f.ports), Source: source, LNB: lnb}
	f.ports = append(f.ports, p)
	return p
}

// Ports returns the attached inputs in ordinal order.
func (f *Frontend) Ports() []*Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Port(nil), f.ports...)
}

// PortFor returns the first port attached to source.
func (f *Frontend) PortFor(source catalog.SourceID) (*Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.ports {
		if p.Source == source {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w %d on %s", ErrNoPort, source, f.id)
}

// Acquire blocks until the frontend is free or ctx ends.
func (f *Frontend) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.grant()
}

// TryAcquire returns a lease only if the frontend is free right now.
func (f *Frontend) TryAcquire() (*Lease, bool) {
	select {
	case f.sem <- struct{}{}:
	default:
		return nil, false
	}
	l, err := f.grant()
	return l, err == nil
}

func (f *Frontend) grant() (*Lease, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.sem
		return nil, ErrClosed
	}
	f.usage++
	f.mu.Unlock()
	metrics.SetFrontendLeased(f.id.String(), true)
	return &Lease{f: f}, nil
}

// open is idempotent.
func (f *Frontend) open(ctx context.Context) error {
	if f.fsm.State() == StateReady {
		if err := f.dev.Open(); err != nil {
			return fmt.Errorf("open %s: %w", f.id, err)
		}
	}
	_, err := f.fsm.Fire(ctx, evOpen)
	return err
}

func (f *Frontend) closeDevice(ctx context.Context) {
	if err := f.dev.Close(); err != nil {
		f.logger.Warn().Err(err).Str(xglog.FieldEvent, "frontend.close_failed").Msg("device close failed")
	}
	_, _ = f.fsm.Fire(ctx, evClose)
}

func (f *Frontend) unbind(ctx context.Context) {
	f.mu.Lock()
	f.tuned = 0
	f.mu.Unlock()
	if s := f.fsm.State(); s == StateTuning || s == StateScanEPG {
		_, _ = f.fsm.Fire(ctx, evRelease)
	}
}

// Close shuts the frontend down. A lease still held keeps working on a closed
// device only until its next Tune.
func (f *Frontend) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.tuned = 0
	f.mu.Unlock()

	err := f.dev.Close()
	_, _ = f.fsm.Fire(context.Background(), evShutdown)
	return err
}
