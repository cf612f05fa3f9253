// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package catalog holds the discovered source/transponder/service/stream graph
// and the user channel list. Entities reference each other by numeric keys;
// readers receive copies.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvd/internal/dvb"
	xglog "github.com/ManuGH/tvd/internal/log"
)

var (
	ErrNotFound             = errors.New("catalog: not found")
	ErrDuplicateTransponder = errors.New("catalog: duplicate transponder")
	ErrFamilyMismatch       = errors.New("catalog: delivery system does not match source")
	ErrSourceExists         = errors.New("catalog: source already exists")
)

// Persister stores catalog entities. Calls are made outside the catalog lock.
type Persister interface {
	SaveSource(ctx context.Context, s Source) error
	SaveTransponder(ctx context.Context, t Transponder) error
	SaveChannel(ctx context.Context, ch Channel) error
}

// StreamChange reports what UpsertStream did.
type StreamChange int

const (
	StreamUnchanged StreamChange = iota
	StreamAdded
	StreamRetyped
)

// Catalog is the in-memory arena. The lock is held only for individual
// inserts and lookups, never across device I/O.
type Catalog struct {
	mu           sync.RWMutex
	sources      map[SourceID]*Source
	transponders map[TransponderID]*Transponder
	channels     map[ChannelID]*Channel
	nextSource   SourceID
	nextTP       TransponderID
	nextChannel  ChannelID

	// guide data is rebuilt from the air and not persisted
	events map[ChannelID][]Event
	epgAt  map[TransponderID]time.Time

	store  Persister
	logger zerolog.Logger
	now    func() time.Time
}

// New returns an empty catalog. store may be nil.
func New(store Persister) *Catalog {
	return &Catalog{
		sources:      make(map[SourceID]*Source),
		transponders: make(map[TransponderID]*Transponder),
		channels:     make(map[ChannelID]*Channel),
		events:       make(map[ChannelID][]Event),
		epgAt:        make(map[TransponderID]time.Time),
		nextSource:   1,
		nextTP:       1,
		nextChannel:  1,
		store:        store,
		logger:       xglog.WithComponent("catalog"),
		now:          time.Now,
	}
}

// Restore replaces the catalog content with persisted entities.
func (c *Catalog) Restore(sources []Source, tps []Transponder, channels []Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = make(map[SourceID]*Source, len(sources))
	c.transponders = make(map[TransponderID]*Transponder, len(tps))
	c.channels = make(map[ChannelID]*Channel, len(channels))
	for i := range sources {
		s := sources[i]
		c.sources[s.ID] = &s
		if s.ID >= c.nextSource {
			c.nextSource = s.ID + 1
		}
	}
	for i := range tps {
		t := tps[i].clone()
		if t.Services == nil {
			t.Services = make(map[uint16]*Service)
		}
		c.transponders[t.ID] = &t
		if t.ID >= c.nextTP {
			c.nextTP = t.ID + 1
		}
	}
	for i := range channels {
		ch := channels[i]
		ch.Services = append([]ServiceKey(nil), ch.Services...)
		c.channels[ch.ID] = &ch
		if ch.ID >= c.nextChannel {
			c.nextChannel = ch.ID + 1
		}
	}
}

// AddSource registers a named source of the given family.
func (c *Catalog) AddSource(ctx context.Context, name string, family dvb.Family) (SourceID, error) {
	c.mu.Lock()
	for _, s := range c.sources {
		if s.Name == name {
			c.mu.Unlock()
			return s.ID, fmt.Errorf("%w: %q", ErrSourceExists, name)
		}
	}
	s := &Source{ID: c.nextSource, Name: name, Family: family}
	c.nextSource++
	c.sources[s.ID] = s
	snap := *s
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveSource(ctx, snap); err != nil {
			return snap.ID, fmt.Errorf("save source: %w", err)
		}
	}
	return snap.ID, nil
}

// Source returns a copy of the source.
func (c *Catalog) Source(id SourceID) (Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sources[id]
	if !ok {
		return Source{}, false
	}
	return *s, true
}

// SourceByName looks a source up by name.
func (c *Catalog) SourceByName(name string) (Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sources {
		if s.Name == name {
			return *s, true
		}
	}
	return Source{}, false
}

// Sources returns all sources ordered by id.
func (c *Catalog) Sources() []Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Source, 0, len(c.sources))
	for _, s := range c.sources {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateTransponder adds a carrier to a source. A carrier with the same key
// is rejected with ErrDuplicateTransponder and the existing id.
func (c *Catalog) CreateTransponder(ctx context.Context, sid SourceID, p Params) (TransponderID, error) {
	c.mu.Lock()
	src, ok := c.sources[sid]
	if !ok {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: source %d", ErrNotFound, sid)
	}
	if src.Family != p.System().Family() {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %s in %s source", ErrFamilyMismatch, p.System(), src.Family)
	}
	key := p.Key()
	for _, t := range c.transponders {
		if t.Source == sid && t.Params.Key() == key {
			c.mu.Unlock()
			return t.ID, fmt.Errorf("%w: %s", ErrDuplicateTransponder, p)
		}
	}
	t := &Transponder{
		ID:        c.nextTP,
		Source:    sid,
		Params:    p,
		State:     TransponderNew,
		Services:  make(map[uint16]*Service),
		UpdatedAt: c.now(),
	}
	c.nextTP++
	c.transponders[t.ID] = t
	c.mu.Unlock()

	return t.ID, c.Persist(ctx, t.ID)
}

// Transponder returns a deep copy of the transponder.
func (c *Catalog) Transponder(id TransponderID) (Transponder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.transponders[id]
	if !ok {
		return Transponder{}, false
	}
	return t.clone(), true
}

// Transponders returns copies of the transponders of sid (all when sid is 0),
// ordered by id.
func (c *Catalog) Transponders(sid SourceID) []Transponder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Transponder
	for _, t := range c.transponders {
		if sid == 0 || t.Source == sid {
			out = append(out, t.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextInState returns the lowest id transponder of sid in state st.
func (c *Catalog) NextInState(sid SourceID, st TransponderState) (TransponderID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var best TransponderID
	for _, t := range c.transponders {
		if t.Source == sid && t.State == st && (best == 0 || t.ID < best) {
			best = t.ID
		}
	}
	return best, best != 0
}

func (c *Catalog) update(id TransponderID, fn func(t *Transponder)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.transponders[id]
	if !ok {
		return fmt.Errorf("%w: transponder %d", ErrNotFound, id)
	}
	fn(t)
	t.UpdatedAt = c.now()
	return nil
}

// SetState moves a transponder to st.
func (c *Catalog) SetState(id TransponderID, st TransponderState) error {
	return c.update(id, func(t *Transponder) { t.State = st })
}

// SetSignal records a signal quality sample.
func (c *Catalog) SetSignal(id TransponderID, s dvb.Status) error {
	return c.update(id, func(t *Transponder) {
		t.Signal, t.SNR, t.BER = s.Signal, s.SNR, s.BER
	})
}

// SetNetwork records the original network id and name.
func (c *Catalog) SetNetwork(id TransponderID, onid uint16, name string) error {
	return c.update(id, func(t *Transponder) {
		t.ONID = onid
		if name != "" {
			t.NetworkName = name
		}
	})
}

// ClaimTSID marks tsid on transponder id. When another transponder of the
// same source already carries tsid, nothing changes and its id is returned
// with ErrDuplicateTransponder.
func (c *Catalog) ClaimTSID(id TransponderID, tsid uint16) (TransponderID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.transponders[id]
	if !ok {
		return 0, fmt.Errorf("%w: transponder %d", ErrNotFound, id)
	}
	for _, o := range c.transponders {
		if o.ID != id && o.Source == t.Source && o.HasTSID && o.TSID == tsid {
			return o.ID, fmt.Errorf("%w: tsid %d already on transponder %d", ErrDuplicateTransponder, tsid, o.ID)
		}
	}
	t.TSID, t.HasTSID = tsid, true
	t.UpdatedAt = c.now()
	return id, nil
}

// UpsertService creates the service on first mention and applies fn to the
// same instance on every call. It reports whether the service was created.
func (c *Catalog) UpsertService(tid TransponderID, sid uint16, fn func(s *Service)) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.transponders[tid]
	if !ok {
		return false, fmt.Errorf("%w: transponder %d", ErrNotFound, tid)
	}
	s, ok := t.Services[sid]
	if !ok {
		s = &Service{ID: sid, Type: ServiceUnknown, Streams: make(map[uint16]*Stream)}
		t.Services[sid] = s
	}
	if fn != nil {
		fn(s)
	}
	t.UpdatedAt = c.now()
	return !ok, nil
}

// UpsertStream adds or retypes one stream of a service. A type change is
// applied in place and logged.
func (c *Catalog) UpsertStream(tid TransponderID, sid uint16, pid uint16, typ StreamType) (StreamChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.transponders[tid]
	if !ok {
		return StreamUnchanged, fmt.Errorf("%w: transponder %d", ErrNotFound, tid)
	}
	s, ok := t.Services[sid]
	if !ok {
		return StreamUnchanged, fmt.Errorf("%w: service %d on transponder %d", ErrNotFound, sid, tid)
	}
	st, ok := s.Streams[pid]
	switch {
	case !ok:
		s.Streams[pid] = &Stream{PID: pid, Type: typ}
		return StreamAdded, nil
	case st.Type != typ:
		c.logger.Warn().
			Str(xglog.FieldEvent, "catalog.stream_retyped").
			Int(xglog.FieldTransponder, int(tid)).
			Uint16(xglog.FieldServiceID, sid).
			Uint16(xglog.FieldPID, pid).
			Str("old_type", string(st.Type)).
			Str("new_type", string(typ)).
			Msg("stream type changed")
		st.Type = typ
		return StreamRetyped, nil
	}
	return StreamUnchanged, nil
}

// AddServiceCA records a CA binding once.
func (c *Catalog) AddServiceCA(tid TransponderID, sid uint16, ca CA) error {
	_, err := c.UpsertService(tid, sid, func(s *Service) {
		for _, have := range s.CA {
			if have == ca {
				return
			}
		}
		s.CA = append(s.CA, ca)
		s.Scrambled = true
	})
	return err
}

// Service returns a copy of one service.
func (c *Catalog) Service(key ServiceKey) (Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.transponders[key.Transponder]
	if !ok {
		return Service{}, false
	}
	s, ok := t.Services[key.Service]
	if !ok {
		return Service{}, false
	}
	return *s.clone(), true
}

// Persist saves a snapshot of the transponder through the store.
func (c *Catalog) Persist(ctx context.Context, id TransponderID) error {
	if c.store == nil {
		return nil
	}
	t, ok := c.Transponder(id)
	if !ok {
		return fmt.Errorf("%w: transponder %d", ErrNotFound, id)
	}
	if err := c.store.SaveTransponder(ctx, t); err != nil {
		return fmt.Errorf("save transponder %d: %w", id, err)
	}
	return nil
}

func sortStreams(s []Stream) {
	sort.Slice(s, func(i, j int) bool { return s[i].PID < s[j].PID })
}
