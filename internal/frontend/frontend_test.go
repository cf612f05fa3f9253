// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package frontend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/dvb/dvbtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	cat *catalog.Catalog
	dev *dvbtest.Device
	fe  *Frontend
	src catalog.SourceID
	tp  catalog.TransponderID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cat := catalog.New(nil)
	src, err := cat.AddSource(ctx, "cable", dvb.FamilyCable)
	require.NoError(t, err)
	tp, err := cat.CreateTransponder(ctx, src, catalog.DVBCParams{FrequencyHz: 346000000, SymbolRate: 6900000, Modulation: "QAM/256"})
	require.NoError(t, err)

	dev := dvbtest.NewDevice()
	fe := New(ID{Adapter: 0, Frontend: 0}, dvb.FamilyCable, dev, cat, WithPollInterval(5*time.Millisecond))
	fe.AddPort(src, nil)
	return &fixture{cat: cat, dev: dev, fe: fe, src: src, tp: tp}
}

func TestNewFrontendIsReady(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StateReady, f.fe.State())
	assert.False(t, f.dev.IsOpen())
}

func TestTuneLocksAndBinds(t *testing.T) {
	f := newFixture(t)
	f.dev.LockAfter = 2
	f.dev.Stat = dvb.Status{Signal: 40000, SNR: 200, BER: 3}

	lease, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	require.NoError(t, lease.Tune(context.Background(), nil, f.tp, time.Second))
	assert.Equal(t, StateTuning, f.fe.State())

	id, err := lease.Transponder()
	require.NoError(t, err)
	assert.Equal(t, f.tp, id)

	tp, _ := f.cat.Transponder(f.tp)
	assert.Equal(t, catalog.TransponderTuned, tp.State)
	assert.Equal(t, uint16(40000), tp.Signal)
	assert.Equal(t, uint16(200), tp.SNR)
	assert.Equal(t, uint32(3), tp.BER)

	tuned := f.dev.Tuned()
	require.Len(t, tuned, 1)
	assert.Equal(t, uint32(346000000), tuned[0].Frequency)
	assert.Equal(t, uint32(6900000), tuned[0].SymbolRate)
}

func TestTuneTimeoutClosesDevice(t *testing.T) {
	f := newFixture(t)
	f.dev.LockAfter = -1

	lease, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	err = lease.Tune(context.Background(), nil, f.tp, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTuneTimeout)
	assert.False(t, f.dev.IsOpen())
	assert.Equal(t, StateReady, f.fe.State())

	tp, _ := f.cat.Transponder(f.tp)
	assert.Equal(t, catalog.TransponderTuningFailed, tp.State)

	_, err = lease.OpenFilter(0)
	assert.ErrorIs(t, err, ErrNotTuned)

	// the device reopens on the next attempt
	f.dev.LockAfter = 0
	require.NoError(t, lease.Tune(context.Background(), nil, f.tp, time.Second))
	assert.Equal(t, 2, f.dev.OpenCount())
}

func TestTuneOpenFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("no such device")
	f.dev.OpenErr = boom

	lease, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	assert.ErrorIs(t, lease.Tune(context.Background(), nil, f.tp, time.Second), boom)
	assert.Equal(t, StateReady, f.fe.State())
}

func TestTuneCancelled(t *testing.T) {
	f := newFixture(t)
	f.dev.LockAfter = -1
	lease, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, lease.Tune(ctx, nil, f.tp, time.Minute), context.DeadlineExceeded)
	assert.False(t, f.dev.IsOpen())
}

func TestTuneRejectsOtherFamily(t *testing.T) {
	f := newFixture(t)
	sat, err := f.cat.AddSource(context.Background(), "astra", dvb.FamilySatellite)
	require.NoError(t, err)
	tp, err := f.cat.CreateTransponder(context.Background(), sat, catalog.DVBSParams{FrequencyKHz: 11494000, Polarization: dvb.PolHorizontal, SymbolRate: 22000000})
	require.NoError(t, err)

	lease, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()
	assert.ErrorIs(t, lease.Tune(context.Background(), nil, tp, time.Second), catalog.ErrFamilyMismatch)
	assert.Empty(t, f.dev.Tuned())
}

func newSatelliteFixture(t *testing.T) (*fixture, *Port) {
	t.Helper()
	ctx := context.Background()
	cat := catalog.New(nil)
	src, err := cat.AddSource(ctx, "astra", dvb.FamilySatellite)
	require.NoError(t, err)
	tp, err := cat.CreateTransponder(ctx, src, catalog.DVBSParams{FrequencyKHz: 12603000, Polarization: dvb.PolHorizontal, SymbolRate: 22000000})
	require.NoError(t, err)

	dev := dvbtest.NewDevice()
	fe := New(ID{Adapter: 0, Frontend: 0}, dvb.FamilySatellite, dev, cat, WithPollInterval(5*time.Millisecond), WithSECSettle(0))
	fe.AddPort(src, nil)
	fe.AddPort(src, nil)
	port := fe.AddPort(src, nil)
	return &fixture{cat: cat, dev: dev, fe: fe, src: src, tp: tp}, port
}

func TestTuneSwitchesSatelliteInput(t *testing.T) {
	f, port := newSatelliteFixture(t)
	require.Equal(t, 2, port.Ordinal)

	lease, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()
	require.NoError(t, lease.Tune(context.Background(), port, f.tp, time.Second))

	assert.Equal(t, []string{
		"tone false",
		"voltage 2",
		"diseqc e0 10 38 fb",
		"burst false",
		"tone true",
	}, f.dev.SEC())
	require.Len(t, f.dev.Tuned(), 1)
	assert.Equal(t, 2, f.dev.Tuned()[0].SatNumber)
}

func TestTuneFailsWhenInputSwitchFails(t *testing.T) {
	f, port := newSatelliteFixture(t)
	boom := errors.New("no diseqc reply")
	f.dev.SECErr = boom

	lease, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()
	assert.ErrorIs(t, lease.Tune(context.Background(), port, f.tp, time.Second), boom)
	assert.Empty(t, f.dev.Tuned())
	assert.False(t, f.dev.IsOpen())
	tp, _ := f.cat.Transponder(f.tp)
	assert.Equal(t, catalog.TransponderTuningFailed, tp.State)
}

func TestReleaseKeepsDeviceOpen(t *testing.T) {
	f := newFixture(t)
	lease, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Tune(context.Background(), nil, f.tp, time.Second))

	lease.Release()
	lease.Release()

	assert.True(t, f.dev.IsOpen())
	assert.Equal(t, StateOpened, f.fe.State())
	_, tuned := f.fe.Tuned()
	assert.False(t, tuned)
	assert.False(t, f.fe.Busy())

	tp, _ := f.cat.Transponder(f.tp)
	assert.Equal(t, catalog.TransponderIdle, tp.State)

	assert.ErrorIs(t, lease.Tune(context.Background(), nil, f.tp, time.Second), ErrReleased)
}

func TestMutualExclusion(t *testing.T) {
	f := newFixture(t)

	first, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Tune(context.Background(), nil, f.tp, time.Second))

	_, ok := f.fe.TryAcquire()
	assert.False(t, ok)

	var (
		mu    sync.Mutex
		order []string
	)
	acquired := make(chan *Lease)
	go func() {
		l, err := f.fe.Acquire(context.Background())
		if err != nil {
			close(acquired)
			return
		}
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		acquired <- l
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire completed while the first lease was held")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	order = append(order, "release")
	mu.Unlock()
	first.Release()

	second := <-acquired
	require.NotNil(t, second)
	defer second.Release()

	mu.Lock()
	assert.Equal(t, []string{"release", "second"}, order)
	mu.Unlock()
	assert.Equal(t, 2, f.fe.Usage())
}

func TestAcquireHonoursContext(t *testing.T) {
	f := newFixture(t)
	held, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.fe.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenFilterNeedsTune(t *testing.T) {
	f := newFixture(t)
	lease, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	_, err = lease.OpenFilter(0)
	assert.ErrorIs(t, err, ErrNotTuned)

	require.NoError(t, lease.Tune(context.Background(), nil, f.tp, time.Second))
	flt, err := lease.OpenFilter(0x11)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x11), flt.PID())
	require.NoError(t, flt.Close())
}

func TestIdleScanState(t *testing.T) {
	f := newFixture(t)
	lease, err := f.fe.Acquire(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, lease.EnterIdleScan(context.Background()), ErrNotTuned)

	require.NoError(t, lease.Tune(context.Background(), nil, f.tp, time.Second))
	require.NoError(t, lease.EnterIdleScan(context.Background()))
	assert.Equal(t, StateScanEPG, f.fe.State())
	lease.Release()
	assert.Equal(t, StateOpened, f.fe.State())
}

func TestCloseRefusesNewLeases(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.fe.Close())
	assert.Equal(t, StateLast, f.fe.State())
	_, err := f.fe.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, f.fe.Busy())
}

func TestPortPrepareSatellite(t *testing.T) {
	tests := []struct {
		name    string
		params  catalog.DVBSParams
		ordinal int
		lnb     *LNB
		freq    uint32
		tone    bool
		voltage dvb.Voltage
		sat     int
	}{
		{
			name:    "low band vertical",
			params:  catalog.DVBSParams{FrequencyKHz: 11494000, Polarization: dvb.PolVertical, SymbolRate: 22000000},
			freq:    1744000,
			voltage: dvb.Voltage13,
		},
		{
			name:    "high band horizontal on port 5",
			params:  catalog.DVBSParams{FrequencyKHz: 12603000, Polarization: dvb.PolHorizontal, SymbolRate: 22000000},
			ordinal: 5,
			freq:    2003000,
			tone:    true,
			voltage: dvb.Voltage18,
			sat:     1,
		},
		{
			name:    "c-band single LO",
			params:  catalog.DVBSParams{FrequencyKHz: 3840000, Polarization: dvb.PolRight, SymbolRate: 27500000},
			lnb:     &LNB{LowLOF: 5150000},
			freq:    1310000,
			voltage: dvb.Voltage13,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &Port{Ordinal: tt.ordinal, LNB: tt.lnb}
			got := port.Prepare(tt.params)
			assert.Equal(t, tt.freq, got.Frequency)
			assert.Equal(t, tt.tone, got.Tone)
			assert.Equal(t, tt.voltage, got.Voltage)
			assert.Equal(t, tt.sat, got.SatNumber)
			assert.Equal(t, tt.params.SymbolRate, got.SymbolRate)
		})
	}
}

func TestRegistry(t *testing.T) {
	cat := catalog.New(nil)
	r := NewRegistry()
	a := New(ID{Adapter: 1, Frontend: 0}, dvb.FamilyCable, dvbtest.NewDevice(), cat)
	b := New(ID{Adapter: 0, Frontend: 1}, dvb.FamilyCable, dvbtest.NewDevice(), cat)
	b.AddPort(7, nil)
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))
	assert.ErrorIs(t, r.Add(a), ErrExists)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, ID{Adapter: 0, Frontend: 1}, list[0].ID())

	assert.Equal(t, []*Frontend{b}, r.ForSource(7))
	got, ok := r.Get(ID{Adapter: 1})
	assert.True(t, ok)
	assert.Same(t, a, got)

	require.NoError(t, r.Close())
	assert.Equal(t, StateLast, a.State())
}
