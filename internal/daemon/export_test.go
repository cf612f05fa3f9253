// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/bus"
	"github.com/ManuGH/tvd/internal/catalog"
)

func readFile(path string) string {
	b, _ := os.ReadFile(path)
	return string(b)
}

func TestExporterFollowsScans(t *testing.T) {
	cat := catalog.New(nil)
	_, err := cat.AddChannel(context.Background(), "First")
	require.NoError(t, err)
	b := bus.NewMemoryBus()
	dir := t.TempDir()
	e := &Exporter{Catalog: cat, Bus: b, Dir: dir, BaseURL: "http://tvd:8088"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	m3u := filepath.Join(dir, "channels.m3u")
	require.Eventually(t, func() bool {
		return strings.Contains(readFile(m3u), "First")
	}, 5*time.Second, 10*time.Millisecond)

	_, err = cat.AddChannel(context.Background(), "Second")
	require.NoError(t, err)

	// Streams and non-terminal transitions do not trigger an export.
	require.NoError(t, b.Publish(ctx, bus.TopicActivityState, activity.StateChange{Kind: activity.KindStream, To: activity.StateDone}))
	require.NoError(t, b.Publish(ctx, bus.TopicActivityState, activity.StateChange{Kind: activity.KindScan, To: activity.StateStarted}))
	assert.NotContains(t, readFile(m3u), "Second")

	require.NoError(t, b.Publish(ctx, bus.TopicActivityState, activity.StateChange{Kind: activity.KindScan, To: activity.StateDone}))
	require.Eventually(t, func() bool {
		return strings.Contains(readFile(filepath.Join(dir, "channels.json")), "Second")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, readFile(m3u), "http://tvd:8088/api/v1/channels/2/stream")

	cancel()
	require.NoError(t, <-done)
}

func TestExporterFollowsGuideReads(t *testing.T) {
	f := newFixture(t, ControlConfig{})
	ch := f.addChannel(t)
	b := bus.NewMemoryBus()
	dir := t.TempDir()
	e := &Exporter{Catalog: f.cat, Bus: b, Dir: dir, BaseURL: "http://tvd:8088"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	guide := filepath.Join(dir, "guide.xml")
	require.Eventually(t, func() bool {
		return strings.Contains(readFile(guide), `<channel id="one">`)
	}, 5*time.Second, 10*time.Millisecond)

	start := time.Now().Add(time.Hour).Truncate(time.Minute)
	got, ok := f.cat.SetServiceEvents(catalog.ServiceKey{Transponder: f.tid, Service: 0x10}, []catalog.Event{
		{ID: 1, Start: start, End: start.Add(time.Hour), Name: "Spätnachrichten"},
	})
	require.True(t, ok)
	require.Equal(t, ch, got)

	require.NoError(t, b.Publish(ctx, bus.TopicActivityState, activity.StateChange{Kind: activity.KindEPG, To: activity.StateDone}))
	require.Eventually(t, func() bool {
		return strings.Contains(readFile(guide), "Spätnachrichten")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
