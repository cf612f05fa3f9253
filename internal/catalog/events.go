// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"sort"
	"time"
)

// Event is one programme guide entry of a channel.
type Event struct {
	ID          uint16    `json:"id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Language    string    `json:"language,omitempty"`
}

// SetServiceEvents replaces the guide of the channel carrying key with
// events. It reports the channel, or false when the service belongs to no
// channel.
func (c *Catalog) SetServiceEvents(key ServiceKey, events []Event) (ChannelID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.transponders[key.Transponder]
	if !ok {
		return 0, false
	}
	s, ok := t.Services[key.Service]
	if !ok || s.Channel == 0 {
		return 0, false
	}
	if _, ok := c.channels[s.Channel]; !ok {
		return 0, false
	}
	guide := append([]Event(nil), events...)
	sort.SliceStable(guide, func(i, j int) bool { return guide[i].Start.Before(guide[j].Start) })
	c.events[s.Channel] = guide
	return s.Channel, true
}

// Events returns the guide of ch ordered by start, leaving out events that
// ended before from. A zero from returns everything.
func (c *Catalog) Events(ch ChannelID, from time.Time) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, 0, len(c.events[ch]))
	for _, ev := range c.events[ch] {
		if !from.IsZero() && ev.End.Before(from) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Event looks up one guide entry of ch.
func (c *Catalog) Event(ch ChannelID, id uint16) (Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ev := range c.events[ch] {
		if ev.ID == id {
			return ev, true
		}
	}
	return Event{}, false
}

// MarkEPG records that the guide of transponder id was read at at.
func (c *Catalog) MarkEPG(id TransponderID, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epgAt[id] = at
}

// NextForEPG returns the transponder of sid whose guide was read longest
// ago, considering only scanned transponders with at least one service on a
// channel and whose guide is older than before.
func (c *Catalog) NextForEPG(sid SourceID, before time.Time) (TransponderID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var (
		best   TransponderID
		bestAt time.Time
	)
	for _, t := range c.transponders {
		if t.Source != sid || !guideState(t.State) || !hasChannel(t) {
			continue
		}
		at := c.epgAt[t.ID]
		if !at.Before(before) {
			continue
		}
		if best == 0 || at.Before(bestAt) || (at.Equal(bestAt) && t.ID < best) {
			best, bestAt = t.ID, at
		}
	}
	return best, best != 0
}

func guideState(st TransponderState) bool {
	switch st {
	case TransponderScanned, TransponderTuned, TransponderIdle:
		return true
	}
	return false
}

func hasChannel(t *Transponder) bool {
	for _, s := range t.Services {
		if s.Channel != 0 {
			return true
		}
	}
	return false
}
