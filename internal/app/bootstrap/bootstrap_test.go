// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bootstrap

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/config"
	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/dvb/dvbtest"
	"github.com/ManuGH/tvd/internal/frontend"
)

func TestMain(m *testing.M) {
	// signal.Notify starts a process-wide receiver that never exits.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("os/signal.signal_recv"))
}

const cableScanfile = `
[330 MHz]
	DELIVERY_SYSTEM = DVBC/ANNEX_A
	FREQUENCY = 330000000
	SYMBOL_RATE = 6900000
	MODULATION = QAM/64

[338 MHz]
	DELIVERY_SYSTEM = DVBC/ANNEX_A
	FREQUENCY = 338000000
	SYMBOL_RATE = 6900000
	MODULATION = QAM/64
`

func testConfig(t *testing.T, backend string) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	scanfile := filepath.Join(dir, "cable.conf")
	require.NoError(t, os.WriteFile(scanfile, []byte(cableScanfile), 0o600))

	cfg := config.Defaults()
	cfg.DataDir = dir
	cfg.LogLevel = "error"
	cfg.Storage.Backend = backend
	cfg.IdleScan.Enabled = false
	cfg.Sources = []config.SourceConfig{
		{Name: "cable", Type: "DVB-C", ScanFile: scanfile},
		{Name: "astra", Type: "DVB-S"},
	}
	cfg.Adapters = []config.AdapterConfig{
		{Adapter: 0, Frontend: 0, DeliverySystem: "DVBC/ANNEX_A", Ports: []config.PortConfig{{Ordinal: 0, Source: "cable"}}},
		{Adapter: 1, Frontend: 0, DeliverySystem: "DVBS2", Ports: []config.PortConfig{{Ordinal: 0, Source: "astra"}}},
	}
	return cfg
}

func fakeDevices(t *testing.T) DeviceFactory {
	t.Helper()
	return func(int, int) dvb.Device { return dvbtest.NewDevice() }
}

func TestWire(t *testing.T) {
	cfg := testConfig(t, "memory")
	c, err := Wire(context.Background(), cfg, Options{Devices: fakeDevices(t), LogOutput: io.Discard})
	require.NoError(t, err)
	defer func() { _ = c.Close(context.Background()) }()

	src, ok := c.Catalog.SourceByName("cable")
	require.True(t, ok)
	assert.Equal(t, dvb.FamilyCable, src.Family)
	assert.Len(t, c.Catalog.Transponders(src.ID), 2)

	fes := c.Frontends.List()
	require.Len(t, fes, 2)

	cable, ok := c.Frontends.Get(frontend.ID{Adapter: 0})
	require.True(t, ok)
	require.Len(t, cable.Ports(), 1)
	assert.Equal(t, src.ID, cable.Ports()[0].Source)
	assert.Nil(t, cable.Ports()[0].LNB)

	sat, ok := c.Frontends.Get(frontend.ID{Adapter: 1})
	require.True(t, ok)
	assert.Equal(t, dvb.FamilySatellite, sat.Family())
	require.NotNil(t, sat.Ports()[0].LNB)
	assert.Equal(t, frontend.UniversalLNB, *sat.Ports()[0].LNB)

	assert.DirExists(t, cfg.RecordingsDir())
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
}

func TestWireReusesStoredSources(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	opts := Options{Devices: fakeDevices(t), LogOutput: io.Discard}

	c, err := Wire(context.Background(), cfg, opts)
	require.NoError(t, err)
	src, _ := c.Catalog.SourceByName("cable")
	_, err = c.Catalog.AddChannel(context.Background(), "Kept")
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))

	c, err = Wire(context.Background(), cfg, opts)
	require.NoError(t, err)
	defer func() { _ = c.Close(context.Background()) }()

	again, ok := c.Catalog.SourceByName("cable")
	require.True(t, ok)
	assert.Equal(t, src.ID, again.ID)
	// Re-reading the scan file adds nothing new.
	assert.Len(t, c.Catalog.Transponders(src.ID), 2)
	assert.Len(t, c.Catalog.Sources(), 2)
	require.Len(t, c.Catalog.Channels(), 1)
	assert.Equal(t, "Kept", c.Catalog.Channels()[0].Name)
}

func TestWireRejectsUnknownPortSource(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.Adapters[0].Ports[0].Source = "missing"
	_, err := Wire(context.Background(), cfg, Options{Devices: fakeDevices(t), LogOutput: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestWireRejectsFamilyChange(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	opts := Options{Devices: fakeDevices(t), LogOutput: io.Discard}
	c, err := Wire(context.Background(), cfg, opts)
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))

	cfg.Sources[1].Type = "DVB-T"
	cfg.Adapters = cfg.Adapters[:1]
	_, err = Wire(context.Background(), cfg, opts)
	require.ErrorIs(t, err, catalog.ErrFamilyMismatch)
}

func TestWireServicesRuns(t *testing.T) {
	cfg := testConfig(t, "memory")
	path := filepath.Join(t.TempDir(), "tvd.yaml")
	require.NoError(t, config.Save(path, cfg))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c, err := WireServices(context.Background(), path, Options{
		Version:   "test",
		Devices:   fakeDevices(t),
		Listener:  ln,
		LogOutput: io.Discard,
	})
	require.NoError(t, err)
	require.NotNil(t, c.ConfigHolder)
	assert.Equal(t, "test", c.Config.Version)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	client := &http.Client{Timeout: time.Second}
	defer client.CloseIdleConnections()
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/api/v1/frontends")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("container did not stop")
	}
}
