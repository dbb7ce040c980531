// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package targeting decides, per visitor event, whether a campaign should be
// shown, and tracks per-visitor view counts and cooldowns so the same
// campaign is not delivered past its cap.
package targeting

import (
	"strings"

	"github.com/rhinontech/engage/internal/models"
)

// matchesTargeting reports whether a campaign's rule set matches the event.
// Inactive campaigns and campaigns of other tenants never match.
func matchesTargeting(c *models.Campaign, ev *models.VisitorEvent) bool {
	if c.Status != models.CampaignStatusActive {
		return false
	}
	if c.ChatbotID != ev.ChatbotID {
		return false
	}
	if !matchesVisitorType(c.Targeting.VisitorType, ev.IsReturning) {
		return false
	}
	if !matchesTrigger(c.Targeting.Trigger, ev.TimeOnPageSec) {
		return false
	}
	if c.Targeting.MinVisitCount > 0 && ev.VisitCount < c.Targeting.MinVisitCount {
		return false
	}
	if !matchesUTM(c.Targeting.UTM, ev.UTM) {
		return false
	}
	return matchesRules(c.Targeting.Rules, ev.URL, ev.Referrer)
}

// matchesVisitorType checks the first-time/returning requirement.
// An unset target type matches everyone.
func matchesVisitorType(targetType string, isReturning bool) bool {
	switch targetType {
	case "", models.VisitorTypeAll:
		return true
	case models.VisitorTypeFirstTime:
		return !isReturning
	case models.VisitorTypeReturning:
		return isReturning
	default:
		return false
	}
}

// matchesTrigger checks the time-on-page requirement.
func matchesTrigger(trigger models.Trigger, timeOnPageSec int) bool {
	if trigger.Value <= 0 {
		return true
	}
	return timeOnPageSec >= trigger.Seconds()
}

// matchesUTM requires every configured utm parameter to be present on the
// event with the same value, case-insensitively.
func matchesUTM(required, got map[string]string) bool {
	for key, want := range required {
		if !strings.EqualFold(got[strings.ToLower(key)], want) {
			return false
		}
	}
	return true
}

// matchesRules combines URL conditions under the rule set's match type.
// An empty condition list always matches.
func matchesRules(rules models.Rules, currentURL, referrerURL string) bool {
	if len(rules.Conditions) == 0 {
		return true
	}

	matchAny := rules.MatchType == models.MatchAny
	for _, cond := range rules.Conditions {
		ok := matchesCondition(cond, currentURL, referrerURL)
		if matchAny && ok {
			return true
		}
		if !matchAny && !ok {
			return false
		}
	}
	return !matchAny
}

// matchesCondition evaluates a single URL predicate. Fields the engine does
// not understand match unconditionally, mirroring how the rule editor can
// ship condition kinds ahead of delivery support.
func matchesCondition(cond models.RuleCondition, currentURL, referrerURL string) bool {
	var url string
	switch cond.Field {
	case models.FieldCurrentPageURL:
		url = strings.ToLower(currentURL)
	case models.FieldReferrerURL:
		url = strings.ToLower(referrerURL)
	default:
		return true
	}

	value := strings.ToLower(cond.Value)
	switch cond.Operator {
	case models.OpContains:
		return strings.Contains(url, value)
	case models.OpEquals, models.OpIs:
		return url == value
	case models.OpStartsWith:
		return strings.HasPrefix(url, value)
	case models.OpEndsWith:
		return strings.HasSuffix(url, value)
	default:
		return false
	}
}
