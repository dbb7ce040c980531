// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package targeting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/metrics"
	"github.com/rhinontech/engage/internal/models"
)

const viewKeyPrefix = "views:"

// maxTxnRetries bounds retries on Badger transaction conflicts.
const maxTxnRetries = 64

// Engine evaluates visitor events against campaign configurations.
//
// The read-then-increment of a view record happens inside one Badger
// read-write transaction. Badger's conflict detection aborts a transaction
// whose read set was modified concurrently, and the engine retries, so two
// concurrent evaluations for the same visitor and campaign serialize: counts
// are never lost and never duplicated relative to the selections returned.
type Engine struct {
	db *badger.DB

	defaultMaxViews int
	defaultCooldown time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates a targeting engine with the given per-campaign defaults.
func NewEngine(db *badger.DB, defaultMaxViews int, defaultCooldown time.Duration) *Engine {
	if defaultMaxViews <= 0 {
		defaultMaxViews = 3
	}
	if defaultCooldown <= 0 {
		defaultCooldown = 24 * time.Hour
	}
	return &Engine{
		db:              db,
		defaultMaxViews: defaultMaxViews,
		defaultCooldown: defaultCooldown,
		now:             time.Now,
	}
}

// Evaluate decides whether a campaign should be shown for the event.
//
// Rule-matching campaigns are ordered (one-time before recurring, then
// configured priority / creation order, then id ascending) and the first
// one whose view record is under cap and outside its cooldown is selected.
// The view record is incremented before the decision is returned: the
// contract is "decided to show", not "confirmed rendered", which trades a
// rare under-delivery for guaranteed non-duplication when events are
// redelivered.
//
// A nil, nil return means no campaign fires; that is not an error.
func (e *Engine) Evaluate(ctx context.Context, ev *models.VisitorEvent, campaigns []*models.Campaign) (*models.Campaign, error) {
	if ev == nil {
		return nil, fmt.Errorf("targeting: nil event")
	}

	candidates := make([]*models.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if matchesTargeting(c, ev) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	orderCandidates(candidates)

	var selected *models.Campaign
	err := e.updateWithRetry(ctx, func(txn *badger.Txn) error {
		selected = nil
		now := e.now().UTC()

		for _, c := range candidates {
			rec := readRecord(txn, viewKey(ev.ChatbotID, ev.VisitorID, c.ID))

			if rec.Count >= c.Cap(e.defaultMaxViews) {
				continue
			}
			if !rec.LastShown.IsZero() && now.Sub(rec.LastShown) < c.Cooldown(e.defaultCooldown) {
				continue
			}

			rec.Count++
			rec.LastShown = now

			data, err := json.Marshal(&rec)
			if err != nil {
				return fmt.Errorf("marshal view record: %w", err)
			}
			if err := txn.Set(viewKey(ev.ChatbotID, ev.VisitorID, c.ID), data); err != nil {
				return fmt.Errorf("set view record: %w", err)
			}

			selected = c
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if selected != nil {
		metrics.CampaignsFired.WithLabelValues(ev.ChatbotID, string(selected.Type)).Inc()
		logging.Ctx(ctx).Debug().
			Int64("campaign_id", selected.ID).
			Str("visitor_id", ev.VisitorID).
			Msg("campaign selected")
	}
	return selected, nil
}

// ViewRecord returns the stored record for a visitor and campaign.
// A missing record reads as the zero record.
func (e *Engine) ViewRecord(ctx context.Context, chatbotID, visitorID string, campaignID int64) (models.ViewRecord, error) {
	var rec models.ViewRecord
	err := e.db.View(func(txn *badger.Txn) error {
		rec = readRecord(txn, viewKey(chatbotID, visitorID, campaignID))
		return nil
	})
	return rec, err
}

// orderCandidates sorts in delivery precedence: one-time campaigns first
// (higher intent, must not be starved by recurring ones), then configured
// priority with unset (0) sorting after set values, then creation time,
// then id ascending for determinism.
func orderCandidates(candidates []*models.Campaign) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Type != b.Type {
			return a.Type == models.CampaignOneTime
		}
		ap, bp := effectivePriority(a), effectivePriority(b)
		if ap != bp {
			return ap < bp
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func effectivePriority(c *models.Campaign) int {
	if c.Priority <= 0 {
		return int(^uint(0) >> 1) // unset sorts last
	}
	return c.Priority
}

// readRecord loads a view record inside txn; missing or corrupt values read
// as the zero record so a damaged entry cannot block delivery decisions.
func readRecord(txn *badger.Txn, key []byte) models.ViewRecord {
	var rec models.ViewRecord

	item, err := txn.Get(key)
	if err != nil {
		return rec
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return models.ViewRecord{}
	}
	return rec
}

// updateWithRetry runs fn in a read-write transaction, retrying on
// conflicts. A committed increment is never rolled back by later failures.
func (e *Engine) updateWithRetry(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = e.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("targeting: transaction conflict persisted: %w", err)
}

func viewKey(chatbotID, visitorID string, campaignID int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%d", viewKeyPrefix, chatbotID, visitorID, campaignID))
}
