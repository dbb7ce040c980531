// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/rhinontech/engage/internal/ingest"
	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/middleware"
	"github.com/rhinontech/engage/internal/models"
)

// maxTrackBody bounds /track payloads. Widgets send small JSON beacons;
// anything larger is hostile or broken.
const maxTrackBody = 64 * 1024

// trackResponse echoes the identity the pipeline resolved so the widget
// can persist visitor and session ids across page loads.
type trackResponse struct {
	Status      string `json:"status"`
	VisitorID   string `json:"visitor_id"`
	SessionID   string `json:"session_id"`
	IsReturning bool   `json:"is_returning"`
	VisitCount  int    `json:"visit_count"`
}

// Track returns a handler that ingests one event type. The type comes
// from the route, never from the payload. The tenant comes from the
// chatbot_id query parameter, falling back to host resolution, so the
// same endpoint serves both the hosted widget and custom-domain embeds.
//
// Accepted events return 202: acceptance means queued, not yet
// evaluated, which is what sendBeacon semantics expect.
func (h *Handler) Track(eventType models.EventType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatbotID := r.URL.Query().Get("chatbot_id")
		if chatbotID == "" {
			chatbotID = middleware.GetTenantID(r.Context())
		}

		var raw ingest.RawEvent
		body := http.MaxBytesReader(w, r.Body, maxTrackBody)
		if err := json.NewDecoder(body).Decode(&raw); err != nil {
			respondError(w, http.StatusBadRequest, "malformed_body", "request body is not valid JSON")
			return
		}

		ev, err := h.pipeline.Ingest(r.Context(), eventType, chatbotID, &raw)
		if err != nil {
			if ingest.IsReject(err) {
				respondError(w, http.StatusBadRequest, ingest.RejectReason(err), err.Error())
				return
			}
			logging.Ctx(r.Context()).Error().Err(err).
				Str("event_type", string(eventType)).
				Msg("event ingestion failed")
			respondError(w, http.StatusInternalServerError, "internal", "failed to ingest event")
			return
		}

		respondJSON(w, http.StatusAccepted, trackResponse{
			Status:      "accepted",
			VisitorID:   ev.VisitorID,
			SessionID:   ev.SessionID,
			IsReturning: ev.IsReturning,
			VisitCount:  ev.VisitCount,
		})
	}
}
