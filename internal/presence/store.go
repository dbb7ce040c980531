// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package presence tracks which visitors are currently connected per tenant,
// backing the dashboard's live-visitor list.
package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/rhinontech/engage/internal/models"
)

const presenceKeyPrefix = "presence:"

// Store persists live-visitor records in BadgerDB.
type Store struct {
	db *badger.DB
}

// NewStore creates a presence store over the shared Badger handle.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Upsert records a visitor as online and refreshes last-seen.
// Returns the stored record for dashboard notification.
func (s *Store) Upsert(ctx context.Context, v models.LiveVisitor) (models.LiveVisitor, error) {
	v.LastSeen = time.Now().UTC()
	v.IsOnline = true

	data, err := json.Marshal(&v)
	if err != nil {
		return models.LiveVisitor{}, fmt.Errorf("marshal presence: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(presenceKey(v.ChatbotID, v.VisitorID), data)
	})
	if err != nil {
		return models.LiveVisitor{}, fmt.Errorf("upsert presence: %w", err)
	}
	return v, nil
}

// MarkOffline flips a visitor's record to offline, preserving last-seen.
// A missing record is not an error; the visitor simply never registered.
func (s *Store) MarkOffline(ctx context.Context, chatbotID, visitorID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(presenceKey(chatbotID, visitorID))
		if err != nil {
			return nil
		}

		var v models.LiveVisitor
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return nil
		}

		v.IsOnline = false
		v.LastSeen = time.Now().UTC()
		data, err := json.Marshal(&v)
		if err != nil {
			return fmt.Errorf("marshal presence: %w", err)
		}
		return txn.Set(presenceKey(chatbotID, visitorID), data)
	})
}

// List returns a tenant's visitors, online first, most recently seen first
// within each group.
func (s *Store) List(ctx context.Context, chatbotID string) ([]models.LiveVisitor, error) {
	var visitors []models.LiveVisitor

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(presenceKeyPrefix + chatbotID + ":")
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var v models.LiveVisitor
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			})
			if err != nil {
				// Corrupt record: skip rather than fail the listing.
				continue
			}
			visitors = append(visitors, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}

	sort.Slice(visitors, func(i, j int) bool {
		if visitors[i].IsOnline != visitors[j].IsOnline {
			return visitors[i].IsOnline
		}
		return visitors[i].LastSeen.After(visitors[j].LastSeen)
	})
	return visitors, nil
}

func presenceKey(chatbotID, visitorID string) []byte {
	return []byte(presenceKeyPrefix + chatbotID + ":" + visitorID)
}
