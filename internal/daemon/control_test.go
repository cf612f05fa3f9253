// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/bus"
	"github.com/ManuGH/tvd/internal/cam"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/dvb/dvbtest"
	"github.com/ManuGH/tvd/internal/frontend"
	"github.com/ManuGH/tvd/internal/psi"
	"github.com/ManuGH/tvd/internal/pump"
	"github.com/ManuGH/tvd/internal/scan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testTSID = 0x0401

type fixture struct {
	cat  *catalog.Catalog
	src  catalog.SourceID
	tid  catalog.TransponderID
	dev  *dvbtest.Device
	fe   *frontend.Frontend
	reg  *frontend.Registry
	ctrl *Control
}

// scriptMux makes dev answer a one-service scan: PAT, SDT and the PMT of
// service 0x10.
func scriptMux(dev *dvbtest.Device) {
	programs := []psi.Program{{Number: 0x10, PMTPID: 0x20}}
	dev.Script(psi.PIDPAT, psi.NewPacketizer(psi.PIDPAT).Packetize(psi.BuildPAT(testTSID, 0, programs)))
	dev.Script(psi.PIDSDT, psi.NewPacketizer(psi.PIDSDT).Packetize(psi.BuildSDT(psi.SDT{
		TSID: testTSID,
		ONID: 1,
		Services: []psi.SDTService{{
			ServiceID:   0x10,
			Descriptors: []psi.Descriptor{psi.ServiceDescriptor(psi.ServiceInfo{Type: 0x01, Provider: "Test", Name: "One"})},
		}},
	})))
	dev.Script(0x20, psi.NewPacketizer(0x20).Packetize(psi.BuildPMT(psi.PMT{
		ProgramNumber: 0x10,
		PCRPID:        0x21,
		Streams:       []psi.ElementaryStream{{Type: psi.StreamH264, PID: 0x21}},
	})))
}

func newFixture(t *testing.T, cfg ControlConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	cat := catalog.New(nil)
	src, err := cat.AddSource(ctx, "cable", dvb.FamilyCable)
	require.NoError(t, err)
	tid, err := cat.CreateTransponder(ctx, src, catalog.DVBCParams{FrequencyHz: 330000000, SymbolRate: 6900000, Modulation: "QAM/64"})
	require.NoError(t, err)

	dev := dvbtest.NewDevice()
	fe := frontend.New(frontend.ID{}, dvb.FamilyCable, dev, cat, frontend.WithPollInterval(time.Millisecond))
	fe.AddPort(src, nil)
	reg := frontend.NewRegistry()
	require.NoError(t, reg.Add(fe))

	deps := activity.Deps{Catalog: cat, Frontends: reg, Bus: bus.NewMemoryBus(), TuneTimeout: 200 * time.Millisecond}
	eng := scan.New(cat, scan.Config{SectionTimeout: 50 * time.Millisecond, SkipNIT: true, SkipCAT: true})
	ctrl := NewControl(deps, eng, cam.NewRegistry(cam.Config{}), cfg)
	t.Cleanup(func() {
		_ = ctrl.Close()
		_ = reg.Close()
	})
	return &fixture{cat: cat, src: src, tid: tid, dev: dev, fe: fe, reg: reg, ctrl: ctrl}
}

// addChannel registers service 0x10 on the fixture transponder and a
// channel for it.
func (f *fixture) addChannel(t *testing.T) catalog.ChannelID {
	t.Helper()
	_, err := f.cat.UpsertService(f.tid, 0x10, func(s *catalog.Service) {
		s.PMTPID = 0x20
		s.Type = catalog.ServiceTV
		s.Name = "One"
	})
	require.NoError(t, err)
	_, err = f.cat.UpsertStream(f.tid, 0x10, 0x21, catalog.StreamVideoH264)
	require.NoError(t, err)
	ch, err := f.cat.AddChannel(context.Background(), "One", catalog.ServiceKey{Transponder: f.tid, Service: 0x10})
	require.NoError(t, err)
	return ch
}

func waitState(t *testing.T, ctrl *Control, id string, want activity.State) activity.Info {
	t.Helper()
	var got activity.Info
	require.Eventually(t, func() bool {
		for _, info := range ctrl.Activities() {
			if info.ID == id {
				got = info
				return info.State == want
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func TestScanUnknownTransponder(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	_, err := f.ctrl.Scan(context.Background(), 999)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Empty(t, f.ctrl.Activities())
}

func TestScanRunsInBackground(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	scriptMux(f.dev)

	ctx, cancel := context.WithCancel(context.Background())
	info, err := f.ctrl.Scan(ctx, f.tid)
	require.NoError(t, err)
	cancel()
	assert.Equal(t, activity.KindScan, info.Kind)
	assert.Equal(t, f.tid, info.Target.Transponder)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	done, err := f.ctrl.Wait(waitCtx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.StateDone, done.State)
	assert.Empty(t, done.Error)

	_, err = f.ctrl.Wait(waitCtx, "unknown")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.False(t, f.fe.Busy())

	tp, ok := f.cat.Transponder(f.tid)
	require.True(t, ok)
	assert.Equal(t, catalog.TransponderScanned, tp.State)
	assert.Equal(t, uint16(testTSID), tp.TSID)
	assert.Contains(t, tp.Services, uint16(0x10))
}

func TestScanJoinsRunningScan(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	// Lock is never reported, so the scan sits in tuning until stopped.
	f.dev.LockAfter = -1
	f.ctrl.deps.TuneTimeout = 5 * time.Second

	first, err := f.ctrl.Scan(context.Background(), f.tid)
	require.NoError(t, err)
	second, err := f.ctrl.Scan(context.Background(), f.tid)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	require.NoError(t, f.ctrl.Close())
	infos := f.ctrl.Activities()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].State.Terminal())
	assert.False(t, f.fe.Busy())

	_, err = f.ctrl.Scan(context.Background(), f.tid)
	require.ErrorIs(t, err, ErrControlClosed)
}

func TestStreamUnknownChannel(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	err := f.ctrl.Stream(context.Background(), 42, pump.WriterSender{W: io.Discard})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestStreamRunsUntilCancelled(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	ch := f.addChannel(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.ctrl.Stream(ctx, ch, pump.WriterSender{W: io.Discard}) }()

	require.Eventually(t, func() bool {
		infos := f.ctrl.Activities()
		return len(infos) == 1 && infos[0].State == activity.StateStarted && f.fe.Busy()
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
	require.Eventually(t, func() bool { return !f.fe.Busy() }, time.Second, 5*time.Millisecond)
}

func TestStreamWithoutFrontendFails(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	ch := f.addChannel(t)
	f.ctrl.deps.Frontends = frontend.NewRegistry()

	err := f.ctrl.Stream(context.Background(), ch, pump.WriterSender{W: io.Discard})
	require.ErrorIs(t, err, activity.ErrNoFrontend)
}

func TestActivityHistoryIsBounded(t *testing.T) {
	f := newFixture(t, ControlConfig{History: 2})
	f.ctrl.deps.Frontends = frontend.NewRegistry()

	var last string
	for range 4 {
		info, err := f.ctrl.Scan(context.Background(), f.tid)
		require.NoError(t, err)
		waitState(t, f.ctrl, info.ID, activity.StateFailed)
		require.Eventually(t, func() bool { return f.ctrl.runningOn(activity.KindScan, f.tid) == nil }, time.Second, time.Millisecond)
		last = info.ID
	}
	infos := f.ctrl.Activities()
	require.Len(t, infos, 2)
	assert.Equal(t, last, infos[0].ID)
}

func TestUpdateEPG(t *testing.T) {
	f := newFixture(t, ControlConfig{EPGWindow: 30 * time.Millisecond})
	ch := f.addChannel(t)
	scriptGuide(f.dev, "Tagesschau")

	_, err := f.ctrl.UpdateEPG(context.Background(), 999)
	require.ErrorIs(t, err, catalog.ErrNotFound)

	info, err := f.ctrl.UpdateEPG(context.Background(), f.tid)
	require.NoError(t, err)
	assert.Equal(t, activity.KindEPG, info.Kind)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := f.ctrl.Wait(waitCtx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.StateDone, done.State)

	guide := f.cat.Events(ch, time.Time{})
	require.Len(t, guide, 1)
	assert.Equal(t, "Tagesschau", guide[0].Name)
	assert.False(t, f.fe.Busy())
}

func TestUpdateEPGJoinsRunningRead(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	f.dev.LockAfter = -1
	f.ctrl.deps.TuneTimeout = 5 * time.Second

	first, err := f.ctrl.UpdateEPG(context.Background(), f.tid)
	require.NoError(t, err)
	second, err := f.ctrl.UpdateEPG(context.Background(), f.tid)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.NoError(t, f.ctrl.Close())
	infos := f.ctrl.Activities()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].State.Terminal())
}
