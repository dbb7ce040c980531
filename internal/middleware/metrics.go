// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/metrics"
)

// slowRequestThreshold is the latency above which a request gets a
// warn-level log entry in addition to its histogram observation.
const slowRequestThreshold = time.Second

// Metrics records request latency per route pattern and status code.
// Route patterns keep cardinality bounded: every tenant's campaign fetch
// lands in the same /api/v1/campaigns/{chatbotID} bucket.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		metrics.HTTPRequestDuration.
			WithLabelValues(route, strconv.Itoa(wrapper.statusCode)).
			Observe(duration.Seconds())

		if duration > slowRequestThreshold {
			logging.Ctx(r.Context()).Warn().
				Str("method", r.Method).
				Str("route", route).
				Int("status", wrapper.statusCode).
				Dur("duration", duration).
				Msg("Slow request")
		}
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
