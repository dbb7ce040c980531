// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package campaigns loads tenant campaign definitions from a file and serves
// read-only snapshots to the targeting engine and the API layer.
//
// The file maps chatbot IDs to campaign lists and is re-read on a fixed
// interval. A failed reload keeps the previous snapshot, so a syntax error
// in the file degrades to staleness rather than an outage.
package campaigns

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rhinontech/engage/internal/config"
	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/models"
)

// Store holds the current campaign snapshot for all tenants.
type Store struct {
	path     string
	interval time.Duration

	mu       sync.RWMutex
	byTenant map[string][]*models.Campaign
	loadedAt time.Time
}

// NewStore creates a store for the configured campaign file. Call Load
// before serving traffic; campaigns are empty until the first load.
func NewStore(cfg config.CampaignsConfig) *Store {
	return &Store{
		path:     cfg.Path,
		interval: cfg.RefreshInterval,
		byTenant: make(map[string][]*models.Campaign),
	}
}

// campaignFile is the on-disk shape: a campaigns map keyed by chatbot ID.
type campaignFile struct {
	Campaigns map[string][]*models.Campaign `json:"campaigns"`
}

// Load re-reads the campaign file and swaps the snapshot.
// A store with no configured path loads an empty snapshot.
func (s *Store) Load(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(s.path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to read campaign file %s: %w", s.path, err)
	}

	var parsed campaignFile
	if err := k.UnmarshalWithConf("", &parsed, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return fmt.Errorf("failed to parse campaign file %s: %w", s.path, err)
	}

	byTenant := make(map[string][]*models.Campaign, len(parsed.Campaigns))
	total := 0
	for chatbotID, list := range parsed.Campaigns {
		kept := make([]*models.Campaign, 0, len(list))
		for _, c := range list {
			if c == nil || c.ID == 0 {
				logging.Ctx(ctx).Warn().
					Str("chatbot_id", chatbotID).
					Msg("skipping campaign without id")
				continue
			}
			// The map key is authoritative for tenant ownership.
			c.ChatbotID = chatbotID
			kept = append(kept, c)
		}
		sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })
		byTenant[chatbotID] = kept
		total += len(kept)
	}

	s.mu.Lock()
	s.byTenant = byTenant
	s.loadedAt = time.Now().UTC()
	s.mu.Unlock()

	logging.Ctx(ctx).Info().
		Int("tenants", len(byTenant)).
		Int("campaigns", total).
		Str("path", s.path).
		Msg("campaign snapshot loaded")
	return nil
}

// Snapshot returns the current campaigns for one tenant. The returned slice
// is a copy; callers may not mutate the campaigns themselves.
func (s *Store) Snapshot(chatbotID string) []*models.Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byTenant[chatbotID]
	if len(list) == 0 {
		return nil
	}
	out := make([]*models.Campaign, len(list))
	copy(out, list)
	return out
}

// Tenants returns the chatbot IDs present in the current snapshot, sorted.
func (s *Store) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byTenant))
	for id := range s.byTenant {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LoadedAt returns when the current snapshot was loaded. Zero before the
// first successful load.
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// RunWithContext refreshes the snapshot on the configured interval until
// the context is canceled. Designed for suture supervision. Reload errors
// are logged and the previous snapshot stays live.
func (s *Store) RunWithContext(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("initial campaign load failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Ctx(ctx).Info().
				Str("component", "campaign-refresher").
				Msg("campaign refresher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Load(ctx); err != nil {
				logging.Ctx(ctx).Error().Err(err).Msg("campaign reload failed, keeping previous snapshot")
			}
		}
	}
}
