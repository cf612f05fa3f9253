// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/persistence/sqlite"
)

var migrations = []sqlite.Migration{
	{Version: 1, Schema: `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		family TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS transponders (
		id INTEGER PRIMARY KEY,
		source_id INTEGER NOT NULL REFERENCES sources(id),
		state TEXT NOT NULL,
		tsid INTEGER,
		data TEXT NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transponders_source ON transponders(source_id, state);
	CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		number INTEGER NOT NULL,
		services TEXT NOT NULL
	);
	`},
	{Version: 2, Schema: `
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		channel_id INTEGER NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		state TEXT NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_start ON recordings(start_ms);
	`},
}

// SqliteStore is the default catalog store.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens dbPath and applies pending migrations.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog store: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) SaveSource(ctx context.Context, src catalog.Source) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO sources (id, name, family) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET name = excluded.name, family = excluded.family`,
		src.ID, src.Name, string(src.Family))
	return err
}

func (s *SqliteStore) SaveTransponder(ctx context.Context, t catalog.Transponder) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var tsid sql.NullInt64
	if t.HasTSID {
		tsid = sql.NullInt64{Int64: int64(t.TSID), Valid: true}
	}
	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO transponders (id, source_id, state, tsid, data, updated_at_ms) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		source_id = excluded.source_id,
		state = excluded.state,
		tsid = excluded.tsid,
		data = excluded.data,
		updated_at_ms = excluded.updated_at_ms`,
		t.ID, t.Source, string(t.State), tsid, string(data), t.UpdatedAt.UnixMilli())
	return err
}

func (s *SqliteStore) SaveChannel(ctx context.Context, ch catalog.Channel) error {
	services, err := json.Marshal(ch.Services)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO channels (id, name, number, services) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET name = excluded.name, number = excluded.number, services = excluded.services`,
		ch.ID, ch.Name, ch.Number, string(services))
	return err
}

func (s *SqliteStore) SaveRecording(ctx context.Context, r catalog.Recording) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO recordings (id, channel_id, start_ms, end_ms, state, data) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		channel_id = excluded.channel_id,
		start_ms = excluded.start_ms,
		end_ms = excluded.end_ms,
		state = excluded.state,
		data = excluded.data`,
		r.ID, r.Channel, r.Start.UnixMilli(), r.End.UnixMilli(), string(r.State), string(data))
	return err
}

func (s *SqliteStore) DeleteRecording(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	return err
}

func (s *SqliteStore) LoadSources(ctx context.Context) ([]catalog.Source, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, family FROM sources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Source
	for rows.Next() {
		var (
			src    catalog.Source
			family string
		)
		if err := rows.Scan(&src.ID, &src.Name, &family); err != nil {
			return nil, err
		}
		src.Family = dvbFamily(family)
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *SqliteStore) LoadTransponders(ctx context.Context) ([]catalog.Transponder, error) {
	return loadJSON[catalog.Transponder](ctx, s.DB, `SELECT data FROM transponders ORDER BY id`)
}

func (s *SqliteStore) LoadRecordings(ctx context.Context) ([]catalog.Recording, error) {
	return loadJSON[catalog.Recording](ctx, s.DB, `SELECT data FROM recordings ORDER BY start_ms`)
}

func (s *SqliteStore) LoadChannels(ctx context.Context) ([]catalog.Channel, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, number, services FROM channels ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Channel
	for rows.Next() {
		var (
			ch       catalog.Channel
			services string
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Number, &services); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(services), &ch.Services); err != nil {
			return nil, fmt.Errorf("channel %d services: %w", ch.ID, err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func loadJSON[T any](ctx context.Context, db *sql.DB, query string) ([]T, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
