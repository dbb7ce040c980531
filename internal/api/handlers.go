// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package api provides the HTTP and WebSocket surface of the Engage server:
// widget event tracking, channel upgrades, dashboard read endpoints, and
// health/metrics. Routing uses chi with the go-chi middleware ecosystem.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"

	"github.com/rhinontech/engage/internal/auth"
	"github.com/rhinontech/engage/internal/campaigns"
	"github.com/rhinontech/engage/internal/config"
	"github.com/rhinontech/engage/internal/ingest"
	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/presence"
	ws "github.com/rhinontech/engage/internal/websocket"
)

// Handler processes HTTP requests. All dependencies are wired at startup;
// nil optional dependencies (verifier) degrade to open behavior.
type Handler struct {
	config    *config.Config
	pipeline  *ingest.Pipeline
	campaigns *campaigns.Store
	presence  *presence.Store
	hub       *ws.Hub
	verifier  *auth.Verifier
	startTime time.Time
}

// NewHandler creates the API handler.
func NewHandler(
	cfg *config.Config,
	pipeline *ingest.Pipeline,
	campaignStore *campaigns.Store,
	presenceStore *presence.Store,
	hub *ws.Hub,
	verifier *auth.Verifier,
) *Handler {
	if verifier == nil {
		verifier = auth.NewVerifier("")
	}
	return &Handler{
		config:    cfg,
		pipeline:  pipeline,
		campaigns: campaignStore,
		presence:  presenceStore,
		hub:       hub,
		verifier:  verifier,
		startTime: time.Now(),
	}
}

// upgrader builds the WebSocket upgrader. Widgets embed on arbitrary
// customer domains, so origin checking follows the configured allow list
// rather than a same-origin rule. An absent Origin header is a
// non-browser client and passes.
func (h *Handler) upgrader() gws.Upgrader {
	return gws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Ctx(r.Context()).Warn().
		Str("origin", origin).
		Msg("websocket connection rejected from unauthorized origin")
	return false
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, reason, message string) {
	respondJSON(w, status, errorResponse{Error: message, Reason: reason})
}
