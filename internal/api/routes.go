// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/tvd/internal/api/middleware"
)

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
		RateLimit:      s.cfg.RateLimit,
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/frontends", s.handleFrontends)
		r.Get("/activities", s.handleActivities)
		r.Get("/events", s.handleEvents)

		r.Get("/sources", s.handleSources)
		r.Get("/sources/{source}/transponders", s.handleTransponders)

		r.Get("/transponders/{transponder}", s.handleTransponder)
		r.Get("/transponders/{transponder}/services", s.handleServices)
		r.With(middleware.ScanRateLimit()).Post("/transponders/{transponder}/scan", s.handleScan)
		r.Post("/transponders/{transponder}/epg", s.handleUpdateEPG)

		r.Get("/channels", s.handleChannels)
		r.Post("/channels", s.handleCreateChannel)
		r.Get("/playlist.m3u", s.handlePlaylist)
		r.Get("/channels/{channel}/events", s.handleChannelEvents)
		r.Get("/guide.xml", s.handleGuide)
		r.Get("/channels/{channel}/stream", s.handleStream)
		r.Post("/channels/{channel}/record", s.handleRecordNow)

		r.Get("/recordings", s.handleRecordings)
		r.Post("/recordings", s.handleSchedule)
		r.Get("/recordings/{id}", s.handleRecording)
		r.Delete("/recordings/{id}", s.handleCancel)
		r.Get("/recordings/{id}/duration", s.handleDuration)
		r.Get("/recordings/{id}/play", s.handlePlay)

		r.Post("/playback/{session}/pause", s.handlePause)
		r.Post("/playback/{session}/resume", s.handleResume)
	})
	return r
}

// intParam parses the named path parameter as a positive id.
func intParam(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		return 0, errBadRequest
	}
	return v, nil
}
