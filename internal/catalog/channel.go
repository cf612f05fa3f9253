// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"fmt"
	"sort"
)

// AddChannel creates a channel over the given services.
func (c *Catalog) AddChannel(ctx context.Context, name string, services ...ServiceKey) (ChannelID, error) {
	c.mu.Lock()
	ch := &Channel{ID: c.nextChannel, Name: name, Number: int(c.nextChannel), Services: append([]ServiceKey(nil), services...)}
	c.nextChannel++
	c.channels[ch.ID] = ch
	c.linkLocked(ch.ID, services)
	snap := cloneChannel(ch)
	c.mu.Unlock()
	return snap.ID, c.saveChannel(ctx, snap)
}

// EnsureChannel returns the channel named name, creating it when missing,
// and appends key to its services if not yet present.
func (c *Catalog) EnsureChannel(ctx context.Context, name string, key ServiceKey) (ChannelID, bool, error) {
	c.mu.Lock()
	var ch *Channel
	for _, have := range c.channels {
		if have.Name == name {
			ch = have
			break
		}
	}
	created := ch == nil
	if created {
		ch = &Channel{ID: c.nextChannel, Name: name, Number: int(c.nextChannel)}
		c.nextChannel++
		c.channels[ch.ID] = ch
	}
	changed := created
	if !containsKey(ch.Services, key) {
		ch.Services = append(ch.Services, key)
		changed = true
	}
	c.linkLocked(ch.ID, []ServiceKey{key})
	snap := cloneChannel(ch)
	c.mu.Unlock()

	if !changed {
		return snap.ID, false, nil
	}
	return snap.ID, created, c.saveChannel(ctx, snap)
}

func (c *Catalog) linkLocked(id ChannelID, keys []ServiceKey) {
	for _, k := range keys {
		if t, ok := c.transponders[k.Transponder]; ok {
			if s, ok := t.Services[k.Service]; ok {
				s.Channel = id
			}
		}
	}
}

// Channel returns a copy of the channel.
func (c *Catalog) Channel(id ChannelID) (Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[id]
	if !ok {
		return Channel{}, false
	}
	return cloneChannel(ch), true
}

// Channels returns all channels ordered by number.
func (c *Catalog) Channels() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, cloneChannel(ch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (c *Catalog) saveChannel(ctx context.Context, ch Channel) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveChannel(ctx, ch); err != nil {
		return fmt.Errorf("save channel %d: %w", ch.ID, err)
	}
	return nil
}

func cloneChannel(ch *Channel) Channel {
	out := *ch
	out.Services = append([]ServiceKey(nil), ch.Services...)
	return out
}

func containsKey(keys []ServiceKey, k ServiceKey) bool {
	for _, have := range keys {
		if have == k {
			return true
		}
	}
	return false
}
