// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package frontend

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ManuGH/tvd/internal/catalog"
)

var ErrExists = errors.New("frontend: already registered")

// Registry owns all frontends keyed by (adapter, frontend).
type Registry struct {
	mu        sync.RWMutex
	frontends map[ID]*Frontend
}

func NewRegistry() *Registry {
	return &Registry{frontends: make(map[ID]*Frontend)}
}

func (r *Registry) Add(f *Frontend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.frontends[f.id]; ok {
		return fmt.Errorf("%w: %s", ErrExists, f.id)
	}
	r.frontends[f.id] = f
	return nil
}

func (r *Registry) Get(id ID) (*Frontend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.frontends[id]
	return f, ok
}

// List returns all frontends ordered by adapter then frontend index.
func (r *Registry) List() []*Frontend {
	r.mu.RLock()
	out := make([]*Frontend, 0, len(r.frontends))
	for _, f := range r.frontends {
		out = append(out, f)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].id, out[j].id
		if a.Adapter != b.Adapter {
			return a.Adapter < b.Adapter
		}
		return a.Frontend < b.Frontend
	})
	return out
}

// ForSource returns the frontends with a port on source, in List order.
func (r *Registry) ForSource(source catalog.SourceID) []*Frontend {
	var out []*Frontend
	for _, f := range r.List() {
		if _, err := f.PortFor(source); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// Close shuts down every frontend and returns the first error.
func (r *Registry) Close() error {
	var first error
	for _, f := range r.List() {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
