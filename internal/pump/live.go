// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pump moves transport stream packets from the demux to files and
// network transmitters, and replays recordings paced to the wall clock.
package pump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvd/internal/cam"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/metrics"
)

const (
	PacketSize = 188

	DefaultWait         = time.Second
	DefaultStallTimeout = 10 * time.Second

	readPackets = 64
)

var (
	ErrStall      = errors.New("pump: no data received")
	ErrShortWrite = errors.New("pump: short write")
	ErrNoStreams  = errors.New("pump: service has no audio or video streams")
)

// Live copies the elementary streams of one service from the demux to Out.
type Live struct {
	Demux   dvb.Opener
	Service catalog.Service
	TSID    uint16
	ONID    uint16
	// CAM descrambles content packets when set. ECM packets read from ECMPID
	// are fed to it and never written to Out.
	CAM    cam.Descrambler
	ECMPID uint16
	Out    io.Writer
	// Mode labels metrics ("record", "stream").
	Mode string

	Clock        Clock
	Wait         time.Duration
	StallTimeout time.Duration
	Logger       zerolog.Logger
}

type batch struct {
	pid  uint16
	ecm  bool
	data []byte
	err  error
}

// Run pumps until ctx ends or a fault occurs. Every descriptor it opened is
// closed before it returns.
func (p *Live) Run(ctx context.Context) (err error) {
	streams := p.Service.AudioVideo()
	if len(streams) == 0 {
		return fmt.Errorf("%w: service %d", ErrNoStreams, p.Service.ID)
	}
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}
	wait, stall := p.Wait, p.StallTimeout
	if wait <= 0 {
		wait = DefaultWait
	}
	if stall <= 0 {
		stall = DefaultStallTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	in := make(chan batch, 16)
	var (
		wg      sync.WaitGroup
		filters []dvb.Filter
	)
	defer func() {
		cancel()
		for _, f := range filters {
			if cerr := f.Close(); cerr != nil {
				p.Logger.Warn().Err(cerr).Uint16(xglog.FieldPID, f.PID()).Msg("close demux filter")
			}
		}
		wg.Wait()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			metrics.IncPumpFailure(p.Mode, failureReason(err))
		}
	}()

	open := func(pid uint16, ecm bool) error {
		f, err := p.Demux.OpenFilter(pid)
		if err != nil {
			return fmt.Errorf("pump: open pid %d: %w", pid, err)
		}
		filters = append(filters, f)
		wg.Add(1)
		go func() {
			defer wg.Done()
			readFilter(ctx, f, ecm, in)
		}()
		return nil
	}
	for _, st := range streams {
		if err := open(st.PID, false); err != nil {
			return err
		}
	}
	descramble := p.CAM != nil
	if descramble && p.ECMPID != 0 {
		if err := open(p.ECMPID, true); err != nil {
			return err
		}
	}

	if err := p.write(ServiceTables(p.Service, p.TSID, p.ONID)); err != nil {
		return err
	}
	p.Logger.Info().
		Str(xglog.FieldEvent, "pump.start").
		Uint16(xglog.FieldServiceID, p.Service.ID).
		Int("pids", len(filters)).
		Bool("descramble", descramble).
		Msg("pump started")

	last := clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-in:
			if b.err != nil {
				return fmt.Errorf("pump: read pid %d: %w", b.pid, b.err)
			}
			last = clock.Now()
			if b.ecm {
				for off := 0; off < len(b.data); off += PacketSize {
					_ = p.CAM.HandleECM(b.data[off : off+PacketSize])
				}
				continue
			}
			if descramble {
				for off := 0; off < len(b.data); off += PacketSize {
					p.CAM.Decrypt(b.data[off : off+PacketSize])
				}
			}
			if err := p.write(b.data); err != nil {
				return err
			}
		case <-clock.After(wait):
			if idle := clock.Now().Sub(last); idle > stall {
				p.Logger.Error().
					Str(xglog.FieldEvent, "pump.stall").
					Dur("idle", idle).
					Msg("no data from demux")
				return fmt.Errorf("%w for %s", ErrStall, idle)
			}
		}
	}
}

func (p *Live) write(b []byte) error {
	n, err := p.Out.Write(b)
	metrics.AddPumpBytes(p.Mode, n)
	if err != nil {
		return fmt.Errorf("pump: write: %w", err)
	}
	if n < len(b) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(b))
	}
	return nil
}

// readFilter forwards whole packets read from f until f is closed.
func readFilter(ctx context.Context, f dvb.Filter, ecm bool, out chan<- batch) {
	buf := make([]byte, readPackets*PacketSize)
	var pending []byte
	for {
		n, err := f.Read(buf)
		if n > 0 {
			pending = align(append(pending, buf[:n]...))
			if whole := len(pending) / PacketSize * PacketSize; whole > 0 {
				data := make([]byte, whole)
				copy(data, pending)
				pending = append(pending[:0], pending[whole:]...)
				select {
				case out <- batch{pid: f.PID(), ecm: ecm, data: data}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return
			}
			select {
			case out <- batch{pid: f.PID(), err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// align drops bytes up to the next sync byte.
func align(b []byte) []byte {
	for i, c := range b {
		if c == 0x47 {
			return b[i:]
		}
	}
	return b[:0]
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrStall):
		return "stall"
	case errors.Is(err, ErrShortWrite):
		return "short_write"
	}
	return "io"
}
