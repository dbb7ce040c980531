// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package api

import (
	"net/http"
	"strings"

	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/middleware"
	ws "github.com/rhinontech/engage/internal/websocket"
)

// WebSocket upgrades the connection and registers the client with the hub.
//
// Query parameters:
//   - chatbot_id: tenant, falls back to host resolution
//   - visitor_id: required for widget connections
//   - kind=dashboard: join the tenant's broadcast room instead of a
//     visitor room; requires an admission token when one is configured
//   - token: dashboard admission token (also accepted as a Bearer header)
//
// The tenant binding is fixed at upgrade time; nothing a client sends
// afterwards can move it to another room.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	chatbotID := q.Get("chatbot_id")
	if chatbotID == "" {
		chatbotID = middleware.GetTenantID(r.Context())
	}
	if chatbotID == "" {
		respondError(w, http.StatusBadRequest, "missing_tenant", "chatbot_id is required")
		return
	}

	kind := ws.KindWidget
	if q.Get("kind") == string(ws.KindDashboard) {
		kind = ws.KindDashboard
	}

	visitorID := q.Get("visitor_id")
	if kind == ws.KindWidget && visitorID == "" {
		respondError(w, http.StatusBadRequest, "missing_visitor", "visitor_id is required for widget connections")
		return
	}

	if kind == ws.KindDashboard && h.verifier.Enabled() {
		token := q.Get("token")
		if token == "" {
			token = bearerToken(r)
		}
		if err := h.verifier.Verify(token, chatbotID); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).
				Str("chatbot_id", chatbotID).
				Msg("dashboard admission denied")
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid dashboard token")
			return
		}
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		logging.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn, kind, chatbotID, visitorID)
	h.hub.Register <- client
	client.Start()
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}
