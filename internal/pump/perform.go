// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pump

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/cam"
	"github.com/ManuGH/tvd/internal/catalog"
	xglog "github.com/ManuGH/tvd/internal/log"
)

// Record writes the activity's service to a file until End.
type Record struct {
	Catalog *catalog.Catalog
	CAMs    *cam.Registry
	Dir     string
	Name    string
	// End stops the recording cleanly. Zero records until cancelled.
	End time.Time
	// OnFile is called once the output file has been created.
	OnFile func(path string)
	Clock  Clock
}

func (r *Record) Kind() activity.Kind { return activity.KindRecord }

func (r *Record) Perform(ctx context.Context, run *activity.Run) error {
	live, err := newLive(r.Catalog, r.CAMs, run)
	if err != nil {
		return err
	}
	out := &LazyFile{Dir: r.Dir, Name: r.Name, OnCreate: r.OnFile}
	defer func() {
		if err := out.Close(); err != nil {
			run.Logger.Warn().Err(err).Str(xglog.FieldEvent, "record.close_failed").Msg("close recording file")
		}
	}()
	live.Out, live.Mode, live.Clock = out, "record", r.Clock

	pctx := ctx
	if !r.End.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, r.End)
		defer cancel()
	}
	err = live.Run(ctx)
	if stopped(pctx, ctx, err) {
		run.Logger.Info().Str(xglog.FieldEvent, "record.stopped").Str("file", out.Path()).Msg("recording finished")
		return nil
	}
	return err
}

// Stream sends the activity's service to a transmitter, rate limited.
type Stream struct {
	Catalog *catalog.Catalog
	CAMs    *cam.Registry
	Out     Sender
	// RateBPS caps the output byte rate; zero is unlimited.
	RateBPS int
	Clock   Clock
}

func (s *Stream) Kind() activity.Kind { return activity.KindStream }

func (s *Stream) Perform(ctx context.Context, run *activity.Run) error {
	live, err := newLive(s.Catalog, s.CAMs, run)
	if err != nil {
		return err
	}
	live.Out = SenderWriter{S: NewRateSender(ctx, s.Out, s.RateBPS)}
	live.Mode, live.Clock = "stream", s.Clock
	err = live.Run(ctx)
	if stopped(ctx, ctx, err) {
		run.Logger.Info().Str(xglog.FieldEvent, "stream.stopped").Msg("stream closed")
		return nil
	}
	return err
}

// stopped reports whether err is the end of ctx, i.e. a requested stop
// rather than a fault.
func stopped(parent, ctx context.Context, err error) bool {
	if err == nil {
		return true
	}
	if parent.Err() != nil {
		return errors.Is(err, parent.Err())
	}
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

func newLive(cat *catalog.Catalog, cams *cam.Registry, run *activity.Run) (*Live, error) {
	svc, ok := cat.Service(run.Service)
	if !ok {
		return nil, fmt.Errorf("%w: service %d on transponder %d", catalog.ErrNotFound, run.Service.Service, run.Service.Transponder)
	}
	tp, _ := cat.Transponder(run.Transponder)
	live := &Live{
		Demux:   run.Lease,
		Service: svc,
		TSID:    tp.TSID,
		ONID:    tp.ONID,
		Logger:  run.Logger,
	}
	if svc.Scrambled && cams != nil {
		for _, ca := range svc.CA {
			if d, ok := cams.ClientFor(ca.SystemID); ok {
				live.CAM, live.ECMPID = d, ca.ECMPID
				break
			}
		}
	}
	if svc.Scrambled && live.CAM == nil {
		run.Logger.Warn().
			Str(xglog.FieldEvent, "pump.no_cam").
			Uint16(xglog.FieldServiceID, svc.ID).
			Msg("no CAM for scrambled service, output stays scrambled")
	}
	return live, nil
}
