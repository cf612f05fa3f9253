// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/dvb/dvbtest"
	"github.com/ManuGH/tvd/internal/frontend"
	"github.com/ManuGH/tvd/internal/psi"
)

func TestIdleOnceScansNewTransponder(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	scriptMux(f.dev)

	require.True(t, f.ctrl.IdleOnce(context.Background(), f.fe))

	tp, _ := f.cat.Transponder(f.tid)
	assert.Equal(t, catalog.TransponderScanned, tp.State)
	assert.False(t, f.fe.Busy())

	infos := f.ctrl.Activities()
	require.Len(t, infos, 1)
	assert.Equal(t, activity.StateDone, infos[0].State)
	require.NotNil(t, infos[0].Frontend)
	assert.Equal(t, f.fe.ID(), *infos[0].Frontend)

	// Nothing New is left.
	assert.False(t, f.ctrl.IdleOnce(context.Background(), f.fe))
}

func TestIdleOnceSkipsBusyFrontend(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	lease, ok := f.fe.TryAcquire()
	require.True(t, ok)
	defer lease.Release()

	assert.False(t, f.ctrl.IdleOnce(context.Background(), f.fe))
	assert.Empty(t, f.ctrl.Activities())
}

func TestIdleOnceStaysOnItsFrontend(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	scriptMux(f.dev)

	// A second frontend on another source must not be used.
	other := frontend.New(frontend.ID{Adapter: 1}, dvb.FamilyCable, dvbtest.NewDevice(), f.cat)
	defer func() { _ = other.Close() }()

	assert.False(t, f.ctrl.IdleOnce(context.Background(), other))
	assert.True(t, f.ctrl.IdleOnce(context.Background(), f.fe))
}

func TestRunIdle(t *testing.T) {
	f := newFixture(t, ControlConfig{IdleInterval: 10 * time.Millisecond})
	scriptMux(f.dev)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.RunIdle(ctx, f.fe) }()

	require.Eventually(t, func() bool {
		tp, _ := f.cat.Transponder(f.tid)
		return tp.State == catalog.TransponderScanned
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunIdleDisabled(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	require.NoError(t, f.ctrl.RunIdle(context.Background(), f.fe))
}

// scriptGuide makes dev carry one present event for service 0x10.
func scriptGuide(dev *dvbtest.Device, name string) {
	dev.Script(psi.PIDEIT, psi.NewPacketizer(psi.PIDEIT).Packetize(psi.BuildEIT(psi.EIT{
		ServiceID: 0x10,
		Events: []psi.EITEvent{{
			ID:          1,
			Start:       time.Now().Truncate(time.Minute),
			Duration:    time.Hour,
			Descriptors: []psi.Descriptor{psi.ShortEventDescriptor(psi.ShortEvent{Language: "deu", Name: name})},
		}},
	})))
}

func TestIdleOnceReadsStaleGuide(t *testing.T) {
	f := newFixture(t, ControlConfig{EPGInterval: time.Hour, EPGWindow: 30 * time.Millisecond})
	ch := f.addChannel(t)
	require.NoError(t, f.cat.SetState(f.tid, catalog.TransponderScanned))
	scriptGuide(f.dev, "Tagesschau")

	require.True(t, f.ctrl.IdleOnce(context.Background(), f.fe))

	infos := f.ctrl.Activities()
	require.Len(t, infos, 1)
	assert.Equal(t, activity.KindEPG, infos[0].Kind)
	assert.Equal(t, activity.StateDone, infos[0].State)

	guide := f.cat.Events(ch, time.Time{})
	require.Len(t, guide, 1)
	assert.Equal(t, "Tagesschau", guide[0].Name)

	// The guide is fresh now.
	assert.False(t, f.ctrl.IdleOnce(context.Background(), f.fe))
}

func TestIdleOnceScansBeforeGuide(t *testing.T) {
	f := newFixture(t, ControlConfig{EPGInterval: time.Hour, EPGWindow: 30 * time.Millisecond})
	scriptMux(f.dev)

	require.True(t, f.ctrl.IdleOnce(context.Background(), f.fe))
	infos := f.ctrl.Activities()
	require.Len(t, infos, 1)
	assert.Equal(t, activity.KindScan, infos[0].Kind)
}

func TestIdleOnceGuideDisabled(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	f.addChannel(t)
	require.NoError(t, f.cat.SetState(f.tid, catalog.TransponderScanned))

	assert.False(t, f.ctrl.IdleOnce(context.Background(), f.fe))
	assert.Empty(t, f.ctrl.Activities())
}
