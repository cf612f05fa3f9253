// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/epg"
)

func (s *Server) handleUpdateEPG(w http.ResponseWriter, r *http.Request) {
	tid, err := intParam(r, "transponder")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, ok := s.deps.Catalog.Transponder(catalog.TransponderID(tid)); !ok {
		writeError(w, r, fmt.Errorf("transponder %d: %w", tid, catalog.ErrNotFound))
		return
	}
	info, err := s.deps.Control.UpdateEPG(r.Context(), catalog.TransponderID(tid))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

// handleChannelEvents lists the guide of a channel from now on.
func (s *Server) handleChannelEvents(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "channel")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ch := catalog.ChannelID(id)
	if _, ok := s.deps.Catalog.Channel(ch); !ok {
		writeError(w, r, fmt.Errorf("channel %d: %w", id, catalog.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Catalog.Events(ch, time.Now()))
}

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := epg.WriteXMLTV(w, epg.Generate(s.deps.Catalog, time.Now())); err != nil {
		s.logger.Debug().Err(err).Msg("guide write aborted")
	}
}
