// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists the catalog and the recording schedule.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
)

var ErrNotFound = errors.New("store: not found")

// Store is the persistence collaborator of the catalog and the recorder.
type Store interface {
	catalog.Persister

	SaveRecording(ctx context.Context, r catalog.Recording) error
	DeleteRecording(ctx context.Context, id string) error

	LoadSources(ctx context.Context) ([]catalog.Source, error)
	LoadTransponders(ctx context.Context) ([]catalog.Transponder, error)
	LoadChannels(ctx context.Context) ([]catalog.Channel, error)
	LoadRecordings(ctx context.Context) ([]catalog.Recording, error)

	Close() error
}

// NewStore opens the backend under dir. An empty backend selects sqlite.
func NewStore(backend, dir string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
		return NewSqliteStore(SqlitePath(dir))
	case "badger":
		return OpenBadgerStore(filepath.Join(dir, "catalog.badger"))
	default:
		return nil, fmt.Errorf("unknown catalog store backend: %s", backend)
	}
}

// SqlitePath is the catalog database file the sqlite backend keeps in dir.
func SqlitePath(dir string) string { return filepath.Join(dir, "catalog.sqlite") }

// Load restores c from s.
func Load(ctx context.Context, s Store, c *catalog.Catalog) error {
	sources, err := s.LoadSources(ctx)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	tps, err := s.LoadTransponders(ctx)
	if err != nil {
		return fmt.Errorf("load transponders: %w", err)
	}
	channels, err := s.LoadChannels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	c.Restore(sources, tps, channels)
	return nil
}

func dvbFamily(s string) dvb.Family {
	if f, err := dvb.ParseFamily(s); err == nil {
		return f
	}
	return dvb.Family(s)
}
