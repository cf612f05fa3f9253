// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/ManuGH/tvd/internal/cache"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/frontend"
	"github.com/ManuGH/tvd/internal/playlist"
)

// cachePrefix namespaces cached catalog listings; a finished scan drops them.
const cachePrefix = "catalog:"

type frontendView struct {
	ID     string                 `json:"id"`
	Family dvb.Family             `json:"family"`
	State  frontend.State         `json:"state"`
	Usage  int                    `json:"usage"`
	Tuned  *catalog.TransponderID `json:"tuned,omitempty"`
	Ports  []*frontend.Port       `json:"ports"`
}

func (s *Server) handleFrontends(w http.ResponseWriter, _ *http.Request) {
	list := s.deps.Frontends.List()
	out := make([]frontendView, 0, len(list))
	for _, f := range list {
		v := frontendView{
			ID:     f.ID().String(),
			Family: f.Family(),
			State:  f.State(),
			Usage:  f.Usage(),
			Ports:  f.Ports(),
		}
		if tid, ok := f.Tuned(); ok {
			v.Tuned = &tid
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActivities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Control.Activities())
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.Sources())
}

// transponderSummary leaves out the service map.
type transponderSummary struct {
	ID          catalog.TransponderID    `json:"id"`
	Params      string                   `json:"params"`
	State       catalog.TransponderState `json:"state"`
	TSID        uint16                   `json:"tsid"`
	NetworkName string                   `json:"network_name,omitempty"`
	Services    int                      `json:"services"`
	Signal      uint16                   `json:"signal"`
	SNR         uint16                   `json:"snr"`
}

func (s *Server) handleTransponders(w http.ResponseWriter, r *http.Request) {
	sid, err := intParam(r, "source")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, ok := s.deps.Catalog.Source(catalog.SourceID(sid)); !ok {
		writeError(w, r, fmt.Errorf("source %d: %w", sid, catalog.ErrNotFound))
		return
	}
	key := fmt.Sprintf("%stransponders:%d", cachePrefix, sid)
	out, err := cache.Remember(r.Context(), s.deps.Cache, key, s.cfg.CacheTTL, func() ([]transponderSummary, error) {
		tps := s.deps.Catalog.Transponders(catalog.SourceID(sid))
		out := make([]transponderSummary, 0, len(tps))
		for _, t := range tps {
			sum := transponderSummary{
				ID:          t.ID,
				State:       t.State,
				TSID:        t.TSID,
				NetworkName: t.NetworkName,
				Services:    len(t.Services),
				Signal:      t.Signal,
				SNR:         t.SNR,
			}
			if t.Params != nil {
				sum.Params = fmt.Sprint(t.Params)
			}
			out = append(out, sum)
		}
		return out, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransponder(w http.ResponseWriter, r *http.Request) {
	tid, err := intParam(r, "transponder")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, ok := s.deps.Catalog.Transponder(catalog.TransponderID(tid))
	if !ok {
		writeError(w, r, fmt.Errorf("transponder %d: %w", tid, catalog.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type streamView struct {
	PID  uint16             `json:"pid"`
	Type catalog.StreamType `json:"type"`
	Name string             `json:"name"`
}

type serviceView struct {
	ID        uint16              `json:"id"`
	Name      string              `json:"name"`
	Provider  string              `json:"provider,omitempty"`
	Type      catalog.ServiceType `json:"type"`
	Scrambled bool                `json:"scrambled"`
	PMTPID    uint16              `json:"pmt_pid"`
	Streams   []streamView        `json:"streams"`
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	tid, err := intParam(r, "transponder")
	if err != nil {
		writeError(w, r, err)
		return
	}
	key := fmt.Sprintf("%sservices:%d", cachePrefix, tid)
	out, err := cache.Remember(r.Context(), s.deps.Cache, key, s.cfg.CacheTTL, func() ([]serviceView, error) {
		t, ok := s.deps.Catalog.Transponder(catalog.TransponderID(tid))
		if !ok {
			return nil, fmt.Errorf("transponder %d: %w", tid, catalog.ErrNotFound)
		}
		out := make([]serviceView, 0, len(t.Services))
		for _, svc := range t.Services {
			v := serviceView{
				ID:        svc.ID,
				Name:      svc.Name,
				Provider:  svc.Provider,
				Type:      svc.Type,
				Scrambled: svc.Scrambled,
				PMTPID:    svc.PMTPID,
			}
			for _, st := range svc.AudioVideo() {
				v.Streams = append(v.Streams, streamView{PID: st.PID, Type: st.Type, Name: st.Type.DisplayName()})
			}
			out = append(out, v)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	tid, err := intParam(r, "transponder")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, ok := s.deps.Catalog.Transponder(catalog.TransponderID(tid)); !ok {
		writeError(w, r, fmt.Errorf("transponder %d: %w", tid, catalog.ErrNotFound))
		return
	}
	info, err := s.deps.Control.Scan(r.Context(), catalog.TransponderID(tid))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	out, err := cache.Remember(r.Context(), s.deps.Cache, cachePrefix+"channels", s.cfg.CacheTTL,
		func() ([]catalog.Channel, error) { return s.deps.Catalog.Channels(), nil })
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type createChannelRequest struct {
	Name     string               `json:"name"`
	Services []catalog.ServiceKey `json:"services"`
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || len(req.Services) == 0 {
		writeError(w, r, fmt.Errorf("%w: name and services are required", errBadRequest))
		return
	}
	for _, k := range req.Services {
		if _, ok := s.deps.Catalog.Service(k); !ok {
			writeError(w, r, fmt.Errorf("service %d on transponder %d: %w", k.Service, k.Transponder, catalog.ErrNotFound))
			return
		}
	}
	id, err := s.deps.Catalog.AddChannel(r.Context(), req.Name, req.Services...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.deps.Cache.Delete(r.Context(), cachePrefix+"channels")
	ch, _ := s.deps.Catalog.Channel(id)
	writeJSON(w, http.StatusCreated, ch)
}

const maxBody = 1 << 20

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// handlePlaylist serves the channel list as M3U with stream URLs on the host
// the client used.
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	items := playlist.FromCatalog(s.deps.Catalog, scheme+"://"+r.Host)
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	if err := playlist.WriteM3U(w, items); err != nil {
		s.logger.Debug().Err(err).Msg("playlist write aborted")
	}
}
