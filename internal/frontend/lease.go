// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package frontend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/metrics"
	"github.com/ManuGH/tvd/internal/telemetry"
)

// Lease is exclusive use of a Frontend. Release must be called exactly once
// on every path; further calls are no-ops.
type Lease struct {
	f    *Frontend
	once sync.Once

	mu       sync.Mutex
	released bool
}

func (l *Lease) Frontend() *Frontend { return l.f }

func (l *Lease) check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrReleased
	}
	return nil
}

// Tune tunes to transponder tid through port and waits up to timeout for lock.
// port may be nil when the frontend has a single implicit input. On failure
// the device is closed and the transponder marked TuningFailed.
func (l *Lease) Tune(ctx context.Context, port *Port, tid catalog.TransponderID, timeout time.Duration) (err error) {
	if err := l.check(); err != nil {
		return err
	}
	f := l.f
	tp, ok := f.cat.Transponder(tid)
	if !ok {
		return fmt.Errorf("%w: transponder %d", catalog.ErrNotFound, tid)
	}
	if fam := tp.Params.System().Family(); fam != f.family {
		return fmt.Errorf("%w: %s on %s frontend", catalog.ErrFamilyMismatch, fam, f.family)
	}

	params := tp.Params.TuneParams()
	if port != nil {
		params = port.Prepare(tp.Params)
	}

	ctx, span := telemetry.Start(ctx, "tvd/frontend", "frontend.tune",
		telemetry.TuneAttributes(f.id.Adapter, f.id.Frontend, string(params.System), tp.Params.Frequency())...)
	defer func() { telemetry.End(span, err) }()

	logger := f.logger.With().
		Int(xglog.FieldTransponder, int(tid)).
		Str(xglog.FieldDelSys, string(params.System)).
		Uint32(xglog.FieldFrequency, tp.Params.Frequency()).
		Logger()

	// retune drops the previous binding first
	f.unbind(ctx)

	if err := f.open(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "frontend.open_failed").Msg("cannot open device")
		l.failTune(ctx, tid, "error", 0)
		return err
	}
	if _, err := f.fsm.Fire(ctx, evTune); err != nil {
		return err
	}
	_ = f.cat.SetState(tid, catalog.TransponderTuning)

	start := time.Now()
	status, err := l.waitLock(ctx, params, timeout)
	if err != nil {
		result := "error"
		if errors.Is(err, ErrTuneTimeout) {
			result = "timeout"
		}
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "frontend.tune_failed").
			Dur("elapsed", time.Since(start)).
			Msg("tune failed")
		_, _ = f.fsm.Fire(ctx, evTuneFailed)
		f.closeDevice(ctx)
		l.failTune(ctx, tid, result, time.Since(start))
		return err
	}

	_ = f.cat.SetSignal(tid, status)
	_ = f.cat.SetState(tid, catalog.TransponderTuned)
	f.mu.Lock()
	f.tuned = tid
	f.mu.Unlock()

	metrics.ObserveTune(f.id.String(), "locked", time.Since(start))
	metrics.SetSignal(f.id.String(), status.Signal, status.SNR)
	logger.Info().
		Str(xglog.FieldEvent, "frontend.tuned").
		Uint16("signal", status.Signal).
		Uint16("snr", status.SNR).
		Dur("elapsed", time.Since(start)).
		Msg("frontend locked")
	return nil
}

func (l *Lease) failTune(ctx context.Context, tid catalog.TransponderID, result string, d time.Duration) {
	f := l.f
	metrics.ObserveTune(f.id.String(), result, d)
	_ = f.cat.SetState(tid, catalog.TransponderTuningFailed)
	if err := f.cat.Persist(context.WithoutCancel(ctx), tid); err != nil {
		f.logger.Warn().Err(err).Str(xglog.FieldEvent, "frontend.persist_failed").Msg("cannot persist tune failure")
	}
}

// waitLock applies params and polls status until lock, timeout or ctx end.
func (l *Lease) waitLock(ctx context.Context, params dvb.TuneParams, timeout time.Duration) (dvb.Status, error) {
	f := l.f
	if sec, ok := f.dev.(dvb.SEC); ok && params.System.Family() == dvb.FamilySatellite {
		if err := dvb.SwitchInput(sec, params, f.secSettle); err != nil {
			return dvb.Status{}, fmt.Errorf("switch input %s: %w", f.id, err)
		}
	}
	if err := f.dev.Tune(params); err != nil {
		return dvb.Status{}, fmt.Errorf("tune %s: %w", f.id, err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		st, err := f.dev.ReadStatus()
		if err != nil {
			return st, fmt.Errorf("read status %s: %w", f.id, err)
		}
		if st.Lock {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-deadline.C:
			return st, fmt.Errorf("%w (%s)", ErrTuneTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// Transponder returns the bound transponder.
func (l *Lease) Transponder() (catalog.TransponderID, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	id, ok := l.f.Tuned()
	if !ok {
		return 0, ErrNotTuned
	}
	return id, nil
}

// OpenFilter opens a demux filter on the tuned transponder.
func (l *Lease) OpenFilter(pid uint16) (dvb.Filter, error) {
	if _, err := l.Transponder(); err != nil {
		return nil, err
	}
	flt, err := l.f.dev.OpenFilter(pid)
	if err != nil {
		return nil, fmt.Errorf("open filter pid %d on %s: %w", pid, l.f.id, err)
	}
	return flt, nil
}

// EnterIdleScan marks a tuned frontend as busy with background scanning.
func (l *Lease) EnterIdleScan(ctx context.Context) error {
	if _, err := l.Transponder(); err != nil {
		return err
	}
	_, err := l.f.fsm.Fire(ctx, evIdleScan)
	return err
}

// Release unbinds the transponder and frees the frontend. The device stays
// open for a fast retune.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.mu.Lock()
		l.released = true
		l.mu.Unlock()

		f := l.f
		if id, ok := f.Tuned(); ok {
			if tp, ok := f.cat.Transponder(id); ok && tp.State == catalog.TransponderTuned {
				_ = f.cat.SetState(id, catalog.TransponderIdle)
			}
		}
		f.unbind(context.Background())
		metrics.SetFrontendLeased(f.id.String(), false)
		<-f.sem
	})
}
