// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/tvd/internal/catalog"
)

// BadgerStore keeps one JSON value per entity:
//   - src:<id>, tp:<id>, ch:<id>, rec:<id>
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the database directory at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) set(key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
}

func scanPrefix[T any](db *badger.DB, prefix string) ([]T, error) {
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) SaveSource(_ context.Context, src catalog.Source) error {
	return s.set(fmt.Sprintf("src:%d", src.ID), src)
}

func (s *BadgerStore) SaveTransponder(_ context.Context, t catalog.Transponder) error {
	return s.set(fmt.Sprintf("tp:%d", t.ID), t)
}

func (s *BadgerStore) SaveChannel(_ context.Context, ch catalog.Channel) error {
	return s.set(fmt.Sprintf("ch:%d", ch.ID), ch)
}

func (s *BadgerStore) SaveRecording(_ context.Context, r catalog.Recording) error {
	return s.set("rec:"+r.ID, r)
}

func (s *BadgerStore) DeleteRecording(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte("rec:" + id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *BadgerStore) LoadSources(context.Context) ([]catalog.Source, error) {
	out, err := scanPrefix[catalog.Source](s.db, "src:")
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *BadgerStore) LoadTransponders(context.Context) ([]catalog.Transponder, error) {
	out, err := scanPrefix[catalog.Transponder](s.db, "tp:")
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *BadgerStore) LoadChannels(context.Context) ([]catalog.Channel, error) {
	out, err := scanPrefix[catalog.Channel](s.db, "ch:")
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, err
}

func (s *BadgerStore) LoadRecordings(context.Context) ([]catalog.Recording, error) {
	out, err := scanPrefix[catalog.Recording](s.db, "rec:")
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, err
}
