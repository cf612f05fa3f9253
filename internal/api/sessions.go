// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"sync"

	"github.com/google/uuid"
)

// pausable is the part of a playback the control endpoints need.
type pausable interface {
	Pause()
	Resume()
}

// sessions tracks running playbacks so pause and resume requests on a
// second connection can reach them.
type sessions struct {
	mu   sync.Mutex
	byID map[string]pausable
}

func newSessions() *sessions {
	return &sessions{byID: make(map[string]pausable)}
}

func (s *sessions) add(p pausable) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.byID[id] = p
	s.mu.Unlock()
	return id
}

func (s *sessions) get(id string) (pausable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	return p, ok
}

func (s *sessions) remove(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}
