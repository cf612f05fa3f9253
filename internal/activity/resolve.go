// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/frontend"
	xglog "github.com/ManuGH/tvd/internal/log"
)

// resolve acquires and tunes a frontend for the target. For channels each
// service is tried in order until one tunes.
func (a *Activity) resolve(ctx context.Context) (*Run, error) {
	var candidates []catalog.ServiceKey
	if a.target.Channel != 0 {
		ch, ok := a.deps.Catalog.Channel(a.target.Channel)
		if !ok {
			return nil, fmt.Errorf("%w: channel %d", catalog.ErrNotFound, a.target.Channel)
		}
		candidates = ch.Services
	} else {
		candidates = []catalog.ServiceKey{{Transponder: a.target.Transponder}}
	}

	var lastErr error = ErrNoFrontend
	for _, key := range candidates {
		run, err := a.tune(ctx, key)
		if err == nil {
			return run, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "activity.tune_failed").
			Int(xglog.FieldTransponder, int(key.Transponder)).
			Uint16(xglog.FieldServiceID, key.Service).
			Msg("cannot tune candidate")
		lastErr = err
	}
	return nil, lastErr
}

func (a *Activity) tune(ctx context.Context, key catalog.ServiceKey) (*Run, error) {
	tp, ok := a.deps.Catalog.Transponder(key.Transponder)
	if !ok {
		return nil, fmt.Errorf("%w: transponder %d", catalog.ErrNotFound, key.Transponder)
	}
	lease, err := a.acquire(ctx, tp.Source)
	if err != nil {
		return nil, err
	}
	fe := lease.Frontend()
	port, err := fe.PortFor(tp.Source)
	if err != nil {
		lease.Release()
		return nil, err
	}
	if err := lease.Tune(ctx, port, tp.ID, a.deps.TuneTimeout); err != nil {
		lease.Release()
		return nil, err
	}

	id := fe.ID()
	a.mu.Lock()
	a.frontend = &id
	a.service = key
	a.mu.Unlock()

	return &Run{
		ID:          a.id,
		Lease:       lease,
		Transponder: tp.ID,
		Service:     key,
		Logger: a.logger.With().
			Str(xglog.FieldFrontend, id.String()).
			Int(xglog.FieldTransponder, int(tp.ID)).
			Logger(),
	}, nil
}

// acquire prefers an idle frontend and otherwise waits for the first one.
func (a *Activity) acquire(ctx context.Context, source catalog.SourceID) (*frontend.Lease, error) {
	if a.deps.Frontends == nil {
		return nil, ErrNoFrontend
	}
	fes := a.deps.Frontends.ForSource(source)
	if len(fes) == 0 {
		return nil, fmt.Errorf("%w: source %d", ErrNoFrontend, source)
	}
	for _, fe := range fes {
		if l, ok := fe.TryAcquire(); ok {
			return l, nil
		}
	}
	l, err := fes[0].Acquire(ctx)
	if errors.Is(err, frontend.ErrClosed) {
		return nil, fmt.Errorf("%w: %v", ErrNoFrontend, err)
	}
	return l, err
}
