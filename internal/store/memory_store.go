// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/ManuGH/tvd/internal/catalog"
)

// MemoryStore keeps JSON copies in maps. It backs tests and --storage memory.
type MemoryStore struct {
	mu           sync.RWMutex
	sources      map[catalog.SourceID][]byte
	transponders map[catalog.TransponderID][]byte
	channels     map[catalog.ChannelID][]byte
	recordings   map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources:      make(map[catalog.SourceID][]byte),
		transponders: make(map[catalog.TransponderID][]byte),
		channels:     make(map[catalog.ChannelID][]byte),
		recordings:   make(map[string][]byte),
	}
}

func put[K comparable](mu *sync.RWMutex, m map[K][]byte, k K, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	mu.Lock()
	m[k] = b
	mu.Unlock()
	return nil
}

func list[K comparable, V any](mu *sync.RWMutex, m map[K][]byte) ([]V, error) {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]V, 0, len(m))
	for _, b := range m {
		var v V
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *MemoryStore) SaveSource(_ context.Context, src catalog.Source) error {
	return put(&s.mu, s.sources, src.ID, src)
}

func (s *MemoryStore) SaveTransponder(_ context.Context, t catalog.Transponder) error {
	return put(&s.mu, s.transponders, t.ID, t)
}

func (s *MemoryStore) SaveChannel(_ context.Context, ch catalog.Channel) error {
	return put(&s.mu, s.channels, ch.ID, ch)
}

func (s *MemoryStore) SaveRecording(_ context.Context, r catalog.Recording) error {
	return put(&s.mu, s.recordings, r.ID, r)
}

func (s *MemoryStore) DeleteRecording(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recordings, id)
	return nil
}

func (s *MemoryStore) LoadSources(context.Context) ([]catalog.Source, error) {
	out, err := list[catalog.SourceID, catalog.Source](&s.mu, s.sources)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *MemoryStore) LoadTransponders(context.Context) ([]catalog.Transponder, error) {
	out, err := list[catalog.TransponderID, catalog.Transponder](&s.mu, s.transponders)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *MemoryStore) LoadChannels(context.Context) ([]catalog.Channel, error) {
	out, err := list[catalog.ChannelID, catalog.Channel](&s.mu, s.channels)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *MemoryStore) LoadRecordings(context.Context) ([]catalog.Recording, error) {
	out, err := list[string, catalog.Recording](&s.mu, s.recordings)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, err
}

func (s *MemoryStore) Close() error { return nil }
