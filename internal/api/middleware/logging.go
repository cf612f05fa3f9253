// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	xglog "github.com/ManuGH/tvd/internal/log"
)

// Logging writes one access log line per request. Streams are logged when
// they end, so the duration covers the whole transfer.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrap(w)
		next.ServeHTTP(sw, r)

		logger := xglog.WithComponentFromContext(r.Context(), "api")
		ev := logger.Info()
		if sw.status >= 500 {
			ev = logger.Error()
		} else if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			ev = logger.Debug()
		}
		ev.Str(xglog.FieldEvent, "http.request").
			Str("method", r.Method).
			Str(xglog.FieldPath, r.URL.Path).
			Str("route", routePattern(r)).
			Int("status", sw.status).
			Int64("bytes", sw.bytes).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("request served")
	})
}
