// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package api

import (
	"net/http"
	"time"
)

type healthStatus struct {
	Status           string     `json:"status"`
	UptimeSeconds    float64    `json:"uptime_seconds"`
	ConnectedClients int        `json:"connected_clients"`
	CampaignTenants  int        `json:"campaign_tenants"`
	CampaignsLoaded  *time.Time `json:"campaigns_loaded_at,omitempty"`
}

// Health reports overall server state for operators.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:           "healthy",
		UptimeSeconds:    time.Since(h.startTime).Seconds(),
		ConnectedClients: h.hub.ClientCount(),
		CampaignTenants:  len(h.campaigns.Tenants()),
	}
	if loaded := h.campaigns.LoadedAt(); !loaded.IsZero() {
		status.CampaignsLoaded = &loaded
	} else {
		status.Status = "degraded"
	}

	respondJSON(w, http.StatusOK, status)
}

// HealthLive is the liveness probe: the process is up and serving.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady is the readiness probe. The server is ready once the
// campaign configuration has loaded; before that a widget would get an
// empty snapshot and silently skip every campaign.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.campaigns.LoadedAt().IsZero() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
