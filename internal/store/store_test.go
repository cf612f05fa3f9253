// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
)

var backends = []string{"memory", "sqlite", "badger"}

func populate(t *testing.T, c *catalog.Catalog) catalog.TransponderID {
	t.Helper()
	ctx := context.Background()
	sid, err := c.AddSource(ctx, "Astra 19.2E", dvb.FamilySatellite)
	require.NoError(t, err)
	tid, err := c.CreateTransponder(ctx, sid, catalog.DVBSParams{FrequencyKHz: 11494000, Polarization: dvb.PolHorizontal, SymbolRate: 22000000})
	require.NoError(t, err)
	_, err = c.ClaimTSID(tid, 1101)
	require.NoError(t, err)
	_, err = c.UpsertService(tid, 0x10, func(s *catalog.Service) {
		s.Name, s.Type, s.PMTPID = "Das Erste HD", catalog.ServiceHDTV, 0x20
	})
	require.NoError(t, err)
	_, err = c.UpsertStream(tid, 0x10, 0x21, catalog.StreamVideoH264)
	require.NoError(t, err)
	require.NoError(t, c.SetState(tid, catalog.TransponderScanned))
	_, _, err = c.EnsureChannel(ctx, "Das Erste HD", catalog.ServiceKey{Transponder: tid, Service: 0x10})
	require.NoError(t, err)
	require.NoError(t, c.Persist(ctx, tid))
	return tid
}

func TestCatalogRoundTrip(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s, err := NewStore(backend, t.TempDir())
			require.NoError(t, err)
			defer s.Close()

			orig := catalog.New(s)
			tid := populate(t, orig)

			restored := catalog.New(s)
			require.NoError(t, Load(ctx, s, restored))

			want, _ := orig.Transponder(tid)
			got, ok := restored.Transponder(tid)
			require.True(t, ok)
			assert.Empty(t, cmp.Diff(want, got, cmpopts.EquateApproxTime(time.Millisecond)))
			assert.Equal(t, orig.Sources(), restored.Sources())
			assert.Equal(t, orig.Channels(), restored.Channels())

			// Ids continue after the restored ones.
			id, err := restored.CreateTransponder(ctx, want.Source, catalog.DVBSParams{FrequencyKHz: 11523000, Polarization: dvb.PolHorizontal})
			require.NoError(t, err)
			assert.Greater(t, id, tid)
		})
	}
}

func TestRecordings(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s, err := NewStore(backend, t.TempDir())
			require.NoError(t, err)
			defer s.Close()

			start := time.Date(2026, 3, 1, 20, 15, 0, 0, time.UTC)
			late := catalog.Recording{ID: "b", Channel: 1, Name: "Late", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour), State: catalog.RecordingScheduled}
			early := catalog.Recording{ID: "a", Channel: 1, Name: "Tagesschau", Start: start, End: start.Add(15 * time.Minute), State: catalog.RecordingScheduled}
			require.NoError(t, s.SaveRecording(ctx, late))
			require.NoError(t, s.SaveRecording(ctx, early))

			early.State = catalog.RecordingDone
			early.Filename = "/rec/Tagesschau.ts"
			require.NoError(t, s.SaveRecording(ctx, early))

			recs, err := s.LoadRecordings(ctx)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "a", recs[0].ID)
			assert.Equal(t, catalog.RecordingDone, recs[0].State)
			assert.True(t, recs[0].Start.Equal(start))

			require.NoError(t, s.DeleteRecording(ctx, "b"))
			require.NoError(t, s.DeleteRecording(ctx, "missing"))
			recs, err = s.LoadRecordings(ctx)
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}

func TestNewStoreRejectsUnknown(t *testing.T) {
	s, err := NewStore("redis", t.TempDir())
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "unknown catalog store backend")
}

func TestExportChannels(t *testing.T) {
	dir := t.TempDir()
	c := catalog.New(nil)
	populate(t, c)

	require.NoError(t, ExportChannels(context.Background(), dir, c, "http://tvd:8080/"))

	m3u, err := os.ReadFile(filepath.Join(dir, "channels.m3u"))
	require.NoError(t, err)
	assert.Contains(t, string(m3u), ",Das Erste HD\n")
	assert.Contains(t, string(m3u), "http://tvd:8080/api/v1/channels/1/stream")
	assert.Contains(t, string(m3u), `group-title="Astra 19.2E"`)

	js, err := os.ReadFile(filepath.Join(dir, "channels.json"))
	require.NoError(t, err)
	assert.Contains(t, string(js), `"name": "Das Erste HD"`)
}
