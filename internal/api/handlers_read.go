// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/models"
)

type campaignsResponse struct {
	ChatbotID string             `json:"chatbot_id"`
	Campaigns []*models.Campaign `json:"campaigns"`
	Count     int                `json:"count"`
}

// Campaigns serves the active campaign snapshot for one tenant. Widgets
// poll this to evaluate time-on-page triggers client-side; the response
// reflects the last successful configuration load.
func (h *Handler) Campaigns(w http.ResponseWriter, r *http.Request) {
	chatbotID := chi.URLParam(r, "chatbotID")
	if chatbotID == "" {
		respondError(w, http.StatusBadRequest, "missing_tenant", "chatbotID path parameter is required")
		return
	}

	snapshot := h.campaigns.Snapshot(chatbotID)
	if snapshot == nil {
		snapshot = []*models.Campaign{}
	}

	respondJSON(w, http.StatusOK, campaignsResponse{
		ChatbotID: chatbotID,
		Campaigns: snapshot,
		Count:     len(snapshot),
	})
}

type visitorsResponse struct {
	ChatbotID string               `json:"chatbot_id"`
	Visitors  []models.LiveVisitor `json:"visitors"`
	Count     int                  `json:"count"`
}

// Visitors serves the live presence list for one tenant's dashboard.
func (h *Handler) Visitors(w http.ResponseWriter, r *http.Request) {
	chatbotID := chi.URLParam(r, "chatbotID")
	if chatbotID == "" {
		respondError(w, http.StatusBadRequest, "missing_tenant", "chatbotID path parameter is required")
		return
	}

	visitors, err := h.presence.List(r.Context(), chatbotID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).
			Str("chatbot_id", chatbotID).
			Msg("failed to list live visitors")
		respondError(w, http.StatusInternalServerError, "internal", "failed to list visitors")
		return
	}
	if visitors == nil {
		visitors = []models.LiveVisitor{}
	}

	respondJSON(w, http.StatusOK, visitorsResponse{
		ChatbotID: chatbotID,
		Visitors:  visitors,
		Count:     len(visitors),
	})
}
