// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package models

import (
	"time"
)

// EventType tags the VisitorEvent union.
type EventType string

const (
	EventPageview     EventType = "pageview"
	EventEngagement   EventType = "engagement"
	EventSessionStart EventType = "session-start"
	EventImpression   EventType = "impression"
)

// VisitorEvent is a normalized event from a widget. Every event carries the
// tenant, visitor, and session identity; the remaining fields are
// type-specific and zero-valued when not applicable.
type VisitorEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ChatbotID string    `json:"chatbot_id"`
	VisitorID string    `json:"visitor_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	// Pageview fields.
	URL      string            `json:"url,omitempty"`
	Referrer string            `json:"referrer,omitempty"`
	UTM      map[string]string `json:"utm,omitempty"`

	// Engagement fields.
	Interaction string `json:"interaction,omitempty"` // e.g. "scroll", "chat-open"

	// Impression fields, set when a campaign delivery generates the event.
	CampaignID int64 `json:"campaign_id,omitempty"`

	// Visitor state at event time, filled in by the identity store.
	IsReturning bool `json:"is_returning"`
	VisitCount  int  `json:"visit_count"`

	// TimeOnPageSec is seconds since page load, reported by the widget.
	TimeOnPageSec int `json:"time_on_page_sec,omitempty"`

	UserAgent string `json:"user_agent,omitempty"`
}

// LiveVisitor is the presence record for a currently (or recently) connected
// widget, surfaced to the tenant's dashboard.
type LiveVisitor struct {
	ChatbotID    string    `json:"chatbot_id"`
	VisitorID    string    `json:"visitor_id"`
	VisitorEmail string    `json:"visitor_email,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
	IsOnline     bool      `json:"is_online"`
}

// Identity is the read-only identity view handed to other components.
type Identity struct {
	VisitorID   string `json:"visitor_id"`
	SessionID   string `json:"session_id"`
	IsReturning bool   `json:"is_returning"`
	VisitCount  int    `json:"visit_count"`
}
