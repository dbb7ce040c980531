// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package middleware holds the HTTP middleware shared by every route:
// request identification, tenant resolution from the Host header, and
// Prometheus request instrumentation. All middleware is chi-compatible
// (func(http.Handler) http.Handler) and composes in any order, though
// RequestID should run first so downstream logs carry the id.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/rhinontech/engage/internal/logging"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	tenantIDKey  contextKey = "tenant_id"
)

// RequestID assigns each request a unique id, honoring one supplied by an
// upstream proxy. The id lands in the response header, the request context,
// and the logging context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		ctx = logging.ContextWithRequestID(ctx, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
