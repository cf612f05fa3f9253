// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHolder(t *testing.T, body string) (*ConfigHolder, string) {
	t.Helper()
	path := writeConfig(t, body)
	l := NewLoader(path, "test")
	cfg, err := l.Load()
	require.NoError(t, err)
	return NewConfigHolder(cfg, l, path), path
}

func TestReloadSwapsAndNotifies(t *testing.T) {
	h, path := newHolder(t, "logLevel: info\n")
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("logLevel: warn\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, "warn", h.Get().LogLevel)
	select {
	case got := <-ch:
		assert.Equal(t, "warn", got.LogLevel)
	default:
		t.Fatal("listener not notified")
	}
}

func TestReloadKeepsOldConfigOnError(t *testing.T) {
	h, path := newHolder(t, "logLevel: info\n")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: shouting\n"), 0o600))

	assert.Error(t, h.Reload(context.Background()))
	assert.Equal(t, "info", h.Get().LogLevel)
}

func TestReloadSkipsFullListener(t *testing.T) {
	h, path := newHolder(t, "logLevel: info\n")
	full := make(chan AppConfig)
	h.RegisterListener(full)

	require.NoError(t, os.WriteFile(path, []byte("logLevel: error\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, "error", h.Get().LogLevel)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	h, path := newHolder(t, "logLevel: info\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer h.Stop()

	require.NoError(t, h.StartWatcher(ctx))
	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\n"), 0o600))

	require.Eventually(t, func() bool {
		return h.Get().LogLevel == "debug"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcherDisabledWithoutPath(t *testing.T) {
	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	h := NewConfigHolder(cfg, NewLoader("", ""), "")
	assert.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
