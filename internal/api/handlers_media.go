// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/tvd/internal/catalog"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/pump"
	"github.com/ManuGH/tvd/internal/recorder"
)

const (
	contentTypeTS     = "video/mp2t"
	headerPlaybackID  = "X-Playback-Session"
	headerRecordingID = "X-Recording-ID"
)

// tsResponse sends packets to an HTTP response. Headers are committed with
// the first chunk so a stream that fails to start still gets an error status.
type tsResponse struct {
	w       http.ResponseWriter
	started bool
}

func (t *tsResponse) SendPacket(chunk []byte) error {
	if !t.started {
		t.w.Header().Set("Content-Type", contentTypeTS)
		t.w.Header().Set("Cache-Control", "no-store")
		t.w.WriteHeader(http.StatusOK)
		t.started = true
	}
	return pump.WriterSender{W: t.w}.SendPacket(chunk)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "channel")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, ok := s.deps.Catalog.Channel(catalog.ChannelID(id)); !ok {
		writeError(w, r, fmt.Errorf("channel %d: %w", id, catalog.ErrNotFound))
		return
	}
	// Live output has no end; lift the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	out := &tsResponse{w: w}
	err = s.deps.Control.Stream(r.Context(), catalog.ChannelID(id), out)
	if err != nil && !out.started {
		writeError(w, r, err)
		return
	}
	if err != nil {
		logger := xglog.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "api.stream_ended").
			Int(xglog.FieldChannel, id).
			Msg("live stream ended with error")
	}
}

func (s *Server) handleRecordNow(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "channel")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.deps.Recorder.RecordNow(r.Context(), catalog.ChannelID(id))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleRecordings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Recorder.List())
}

type scheduleRequest struct {
	Channel catalog.ChannelID `json:"channel"`
	Name    string            `json:"name"`
	EventID int               `json:"event_id"`
	Start   time.Time         `json:"start"`
	End     time.Time         `json:"end"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.deps.Recorder.Schedule(r.Context(), catalog.Recording{
		Channel: req.Channel,
		Name:    req.Name,
		EventID: req.EventID,
		Start:   req.Start,
		End:     req.End,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) recording(r *http.Request) (catalog.Recording, error) {
	id := chi.URLParam(r, "id")
	rec, ok := s.deps.Recorder.Get(id)
	if !ok {
		return rec, fmt.Errorf("recording %s: %w", id, recorder.ErrNotFound)
	}
	return rec, nil
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.recording(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Recorder.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordingFile resolves the file of a recording that has one.
func (s *Server) recordingFile(r *http.Request) (catalog.Recording, error) {
	rec, err := s.recording(r)
	if err != nil {
		return rec, err
	}
	if rec.Filename == "" {
		return rec, fmt.Errorf("recording %s has no file yet: %w", rec.ID, errNotFound)
	}
	return rec, nil
}

func (s *Server) handleDuration(w http.ResponseWriter, r *http.Request) {
	rec, err := s.recordingFile(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := pump.Duration(rec.Filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %v", errNotFound, err)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      rec.ID,
		"seconds": int64(d / time.Second),
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	rec, err := s.recordingFile(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// #nosec G304 -- the path comes from the recorder, not the client
	f, err := os.Open(rec.Filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %v", errNotFound, err)
		}
		writeError(w, r, err)
		return
	}
	defer f.Close()

	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	out := &tsResponse{w: w}
	cfg := s.cfg.Playback
	cfg.Logger = xglog.WithComponentFromContext(r.Context(), "playback")
	pb := pump.NewPlayback(f, out, cfg)

	id := s.sessions.add(pb)
	defer s.sessions.remove(id)
	w.Header().Set(headerPlaybackID, id)
	w.Header().Set(headerRecordingID, rec.ID)

	err = pb.Run(r.Context())
	switch {
	case err == nil:
		if !out.started {
			w.WriteHeader(http.StatusNoContent)
		}
	case !out.started:
		writeError(w, r, err)
	case r.Context().Err() == nil:
		cfg.Logger.Warn().Err(err).
			Str(xglog.FieldEvent, "playback.failed").
			Str(xglog.FieldRecordingID, rec.ID).
			Msg("playback ended with error")
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	pb, ok := s.sessions.get(chi.URLParam(r, "session"))
	if !ok {
		writeError(w, r, fmt.Errorf("playback session: %w", errNotFound))
		return
	}
	pb.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	pb, ok := s.sessions.get(chi.URLParam(r, "session"))
	if !ok {
		writeError(w, r, fmt.Errorf("playback session: %w", errNotFound))
		return
	}
	pb.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}
