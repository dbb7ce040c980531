// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package models defines data structures shared across the Engage application.
// These models represent tenants, campaigns, visitor events, and the records
// the targeting engine keeps per visitor.
package models

import (
	"time"
)

// CampaignType distinguishes delivery semantics.
type CampaignType string

const (
	// CampaignOneTime campaigns are shown at most once per visitor.
	CampaignOneTime CampaignType = "one-time"

	// CampaignRecurring campaigns may be reshown up to the configured cap,
	// subject to the cooldown window.
	CampaignRecurring CampaignType = "recurring"
)

// Campaign statuses. Only active campaigns are ever delivered.
const (
	CampaignStatusActive = "active"
	CampaignStatusPaused = "paused"
	CampaignStatusDraft  = "draft"
)

// Visitor type targeting values.
const (
	VisitorTypeAll       = "all"
	VisitorTypeFirstTime = "first-time"
	VisitorTypeReturning = "returning"
)

// Rule match types.
const (
	MatchAll = "match-all"
	MatchAny = "match-any"
)

// Rule condition fields.
const (
	FieldCurrentPageURL = "current-page-url"
	FieldReferrerURL    = "referrer-url"
)

// Rule condition operators.
const (
	OpContains   = "contains"
	OpEquals     = "equals"
	OpIs         = "is"
	OpStartsWith = "starts-with"
	OpEndsWith   = "ends-with"
)

// RuleCondition is a single URL predicate inside a campaign's rule set.
type RuleCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Rules combines URL conditions under a match type.
// An empty condition list always matches.
type Rules struct {
	MatchType  string          `json:"matchType"`
	Conditions []RuleCondition `json:"conditions"`
}

// Trigger describes the time-on-page requirement before a campaign fires.
type Trigger struct {
	Type  string `json:"type"` // "time-on-page"
	Value int    `json:"value"`
	Unit  string `json:"unit"` // "seconds" or "minutes"
}

// Seconds returns the trigger threshold normalized to seconds.
func (t Trigger) Seconds() int {
	if t.Unit == "minutes" {
		return t.Value * 60
	}
	return t.Value
}

// Targeting holds a campaign's full rule set.
type Targeting struct {
	VisitorType   string            `json:"visitorType"` // all, first-time, returning
	Trigger       Trigger           `json:"trigger"`
	Rules         Rules             `json:"rules"`
	MinVisitCount int               `json:"minVisitCount,omitempty"` // 0 = no threshold
	UTM           map[string]string `json:"utm,omitempty"`           // required utm params, e.g. utm_campaign=spring
}

// Campaign is a tenant-configured promotional message with targeting rules
// and a delivery cap. A campaign belongs to exactly one tenant.
type Campaign struct {
	ID        int64        `json:"id"`
	ChatbotID string       `json:"chatbot_id"`
	Name      string       `json:"name"`
	Type      CampaignType `json:"type"`
	Status    string       `json:"status"`
	Priority  int          `json:"priority"` // lower wins; 0 means unset (falls back to creation order)
	Targeting Targeting    `json:"targeting"`

	// MaxViews caps deliveries per visitor. 0 falls back to the engine
	// default. One-time campaigns are capped at 1 regardless.
	MaxViews int `json:"max_views,omitempty"`

	// CooldownHours is the minimum gap between deliveries to the same
	// visitor. 0 falls back to the engine default.
	CooldownHours int `json:"cooldown_hours,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Cooldown returns the campaign's cooldown window, or def when unset.
func (c *Campaign) Cooldown(def time.Duration) time.Duration {
	if c.CooldownHours <= 0 {
		return def
	}
	return time.Duration(c.CooldownHours) * time.Hour
}

// Cap returns the campaign's per-visitor view cap, or def when unset.
// One-time campaigns always cap at 1.
func (c *Campaign) Cap(def int) int {
	if c.Type == CampaignOneTime {
		return 1
	}
	if c.MaxViews <= 0 {
		return def
	}
	return c.MaxViews
}

// ViewRecord tracks deliveries of one campaign to one visitor.
// Count is monotonic; LastShown is last-writer-wins.
type ViewRecord struct {
	Count     int       `json:"count"`
	LastShown time.Time `json:"last_shown"`
}
