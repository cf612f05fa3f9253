// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tvd/internal/config"
	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/dvb/dvbtest"
	"github.com/ManuGH/tvd/internal/psi"
	"github.com/ManuGH/tvd/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("os/signal.signal_recv"))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeTS(t *testing.T, pts ...uint64) string {
	t.Helper()
	var buf bytes.Buffer
	for i, p := range pts {
		buf.Write(psi.PESPacket(0x21, byte(i), 0xE0, p))
	}
	path := filepath.Join(t.TempDir(), "rec.ts")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tvd dev")
}

func TestPlayInfo(t *testing.T) {
	path := writeTS(t, 0, psi.ClockRate, 3*psi.ClockRate)
	out, err := run(t, "play", "--info", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3.000s")
}

func TestPlayToStdout(t *testing.T) {
	path := writeTS(t, 0, 0, 0)
	out, err := run(t, "play", path)
	require.NoError(t, err)
	assert.Len(t, out, 3*188)
}

func TestPlayMissingFile(t *testing.T) {
	_, err := run(t, "play", filepath.Join(t.TempDir(), "nope.ts"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

const scanfile = `
[330 MHz]
	DELIVERY_SYSTEM = DVBC/ANNEX_A
	FREQUENCY = 330000000
	SYMBOL_RATE = 6900000
	MODULATION = QAM/64
`

func scanConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	sf := filepath.Join(dir, "cable.conf")
	require.NoError(t, os.WriteFile(sf, []byte(scanfile), 0o600))

	cfg := config.Defaults()
	cfg.DataDir = dir
	cfg.LogLevel = "error"
	cfg.Storage.Backend = "memory"
	cfg.Tuning.SectionTimeout = 50 * time.Millisecond
	cfg.Tuning.PollInterval = time.Millisecond
	cfg.Sources = []config.SourceConfig{{Name: "cable", Type: "DVB-C", ScanFile: sf}}
	cfg.Adapters = []config.AdapterConfig{{
		DeliverySystem: "DVBC/ANNEX_A",
		Ports:          []config.PortConfig{{Source: "cable"}},
	}}
	path := filepath.Join(dir, "tvd.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path
}

func scriptedDevices(t *testing.T) {
	t.Helper()
	devices = func(int, int) dvb.Device {
		dev := dvbtest.NewDevice()
		programs := []psi.Program{{Number: 0x10, PMTPID: 0x20}}
		dev.Script(psi.PIDPAT, psi.NewPacketizer(psi.PIDPAT).Packetize(psi.BuildPAT(0x0401, 0, programs)))
		dev.Script(psi.PIDSDT, psi.NewPacketizer(psi.PIDSDT).Packetize(psi.BuildSDT(psi.SDT{
			TSID: 0x0401,
			ONID: 1,
			Services: []psi.SDTService{{
				ServiceID:   0x10,
				Descriptors: []psi.Descriptor{psi.ServiceDescriptor(psi.ServiceInfo{Type: 0x01, Provider: "Test", Name: "Das Erste"})},
			}},
		})))
		dev.Script(0x20, psi.NewPacketizer(0x20).Packetize(psi.BuildPMT(psi.PMT{
			ProgramNumber: 0x10,
			PCRPID:        0x21,
			Streams:       []psi.ElementaryStream{{Type: psi.StreamH264, PID: 0x21}},
		})))
		return dev
	}
	t.Cleanup(func() { devices = nil })
}

func TestScanSource(t *testing.T) {
	scriptedDevices(t)
	out, err := run(t, "scan", "-c", scanConfig(t), "--source", "cable")
	require.NoError(t, err)
	assert.Contains(t, out, "Das Erste")
	assert.Contains(t, out, "scanned")
	assert.Contains(t, out, "1025")
}

func TestScanNeedsSelection(t *testing.T) {
	scriptedDevices(t)
	_, err := run(t, "scan", "-c", scanConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--source")

	_, err = run(t, "scan", "-c", scanConfig(t), "--source", "nope")
	require.Error(t, err)
}

func TestStoreVerify(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.LogLevel = "error"
	s, err := store.NewStore("sqlite", cfg.StorePath())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	path := filepath.Join(cfg.DataDir, "tvd.yaml")
	require.NoError(t, config.Save(path, cfg))

	out, err := run(t, "store", "verify", "-c", path, "--mode", "full")
	require.NoError(t, err)
	assert.Contains(t, out, "catalog.sqlite: ok (full)")

	_, err = run(t, "store", "verify", "-c", path, "--mode", "deep")
	require.Error(t, err)
}
