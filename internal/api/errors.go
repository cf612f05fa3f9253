// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/frontend"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/pump"
	"github.com/ManuGH/tvd/internal/recorder"
)

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, recorder.ErrInvalidWindow),
		errors.Is(err, activity.ErrNoTarget):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, recorder.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrDuplicateTransponder),
		errors.Is(err, catalog.ErrSourceExists):
		return http.StatusConflict
	case errors.Is(err, pump.ErrNoTimestamps):
		return http.StatusUnprocessableEntity
	case errors.Is(err, activity.ErrNoFrontend),
		errors.Is(err, frontend.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes err as {"error": ...}. Server errors are logged; the
// message still goes to the client since the API is operator facing.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger := xglog.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "api.error").
			Str(xglog.FieldPath, r.URL.Path).
			Int("status", code).
			Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
