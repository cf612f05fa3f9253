// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cam routes conditional access work to the clients that can
// descramble a given CA system.
package cam

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/metrics"
	"github.com/ManuGH/tvd/internal/resilience"
)

var (
	ErrUnknownClient = errors.New("cam: unknown client")
	ErrExists        = errors.New("cam: client already registered")
)

// Client is one conditional access module or card server connection.
type Client interface {
	Name() string
	// HandleECM feeds one 188-byte ECM packet.
	HandleECM(pkt []byte) error
	// Decrypt descrambles pkt in place. Clear packets are left untouched.
	Decrypt(pkt []byte)
}

// Descrambler is what a pump needs from a client.
type Descrambler interface {
	HandleECM(pkt []byte) error
	Decrypt(pkt []byte)
}

type Config struct {
	// FailureThreshold consecutive ECM failures open a client's breaker.
	FailureThreshold int
	ResetTimeout     time.Duration
}

type entry struct {
	client  Client
	breaker *resilience.CircuitBreaker
	caids   map[uint16]bool
}

type route struct {
	caid   uint16
	client string
}

// Registry holds the registered clients and the CA system ids they proved
// to support. Routing picks the first client that announced a CA system.
type Registry struct {
	mu      sync.RWMutex
	cfg     Config
	clients map[string]*entry
	routes  []route
	logger  zerolog.Logger
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		clients: make(map[string]*entry),
		logger:  xglog.WithComponent("cam"),
	}
}

// Register adds c. Its CA systems are unknown until NotifyCard is called.
func (r *Registry) Register(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrExists, c.Name())
	}
	r.clients[c.Name()] = &entry{
		client:  c,
		breaker: resilience.NewCircuitBreaker("cam_"+c.Name(), r.cfg.FailureThreshold, r.cfg.ResetTimeout, resilience.WithPanicRecovery(true)),
		caids:   make(map[uint16]bool),
	}
	r.logger.Info().Str(xglog.FieldEvent, "cam.register").Str("client", c.Name()).Msg("cam client registered")
	return nil
}

// Unregister removes the client and its routes.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
	kept := r.routes[:0]
	for _, rt := range r.routes {
		if rt.client != name {
			kept = append(kept, rt)
		}
	}
	r.routes = kept
}

// NotifyCard records that client can handle CA system caid.
func (r *Registry) NotifyCard(client string, caid uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[client]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, client)
	}
	if e.caids[caid] {
		return nil
	}
	e.caids[caid] = true
	r.routes = append(r.routes, route{caid: caid, client: client})
	r.logger.Info().Str(xglog.FieldEvent, "cam.card").Str("client", client).Uint16("caid", caid).Msg("card announced")
	return nil
}

// HasCAID reports whether any client supports caid.
func (r *Registry) HasCAID(caid uint16) bool {
	_, ok := r.ClientFor(caid)
	return ok
}

// ClientFor returns the first client that announced caid and whose breaker
// lets calls through.
func (r *Registry) ClientFor(caid uint16) (Descrambler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if rt.caid != caid {
			continue
		}
		e := r.clients[rt.client]
		if e == nil || !e.breaker.Allow() {
			continue
		}
		return &guarded{e: e, logger: r.logger}, true
	}
	return nil, false
}

// CAIDs returns the routed CA system ids per client.
func (r *Registry) CAIDs() map[string][]uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]uint16, len(r.clients))
	for name, e := range r.clients {
		ids := make([]uint16, 0, len(e.caids))
		for id := range e.caids {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out[name] = ids
	}
	return out
}

// guarded sends ECMs through the client's breaker.
type guarded struct {
	e      *entry
	logger zerolog.Logger
}

func (g *guarded) HandleECM(pkt []byte) error {
	metrics.IncECM()
	err := g.e.breaker.Execute(func() error { return g.e.client.HandleECM(pkt) })
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		g.logger.Warn().Err(err).Str(xglog.FieldEvent, "cam.ecm_failed").Str("client", g.e.client.Name()).Msg("ECM rejected")
	}
	return err
}

func (g *guarded) Decrypt(pkt []byte) { g.e.client.Decrypt(pkt) }
