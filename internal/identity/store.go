// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package identity derives and persists visitor and session identity.
//
// Identity state is mutated only here; every other component receives
// read-only value copies. The "visited before" marker read and write happen
// inside a single Badger transaction so concurrent duplicate initializations
// (two tabs booting the widget at once) cannot flip a returning visitor back
// to new.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rhinontech/engage/internal/models"
)

// Key prefixes for BadgerDB storage.
const (
	visitorKeyPrefix = "visitor:"
	sessionKeyPrefix = "session:"
)

// maxTxnRetries bounds retries on Badger transaction conflicts. Conflicts
// are short-lived (transactions here touch a handful of keys) but bursts of
// concurrent tabs can cascade, so the bound is generous.
const maxTxnRetries = 64

// visitorMarker is the durable per-visitor record behind the "visited
// before" flag.
type visitorMarker struct {
	FirstSeen time.Time `json:"first_seen"`
	Visits    int       `json:"visits"`
}

// Store persists visitor identity in BadgerDB.
type Store struct {
	db         *badger.DB
	sessionTTL time.Duration
}

// NewStore creates an identity store. sessionTTL bounds how long a session
// id stays valid without activity; the session boundary itself is supplied
// externally via that TTL.
func NewStore(db *badger.DB, sessionTTL time.Duration) *Store {
	return &Store{db: db, sessionTTL: sessionTTL}
}

// Identify establishes or restores a visitor's identity for a tenant.
//
// An empty visitorID means first contact: a new id is generated and the
// visited-before marker is created. IsReturning is true iff the marker
// existed prior to this call. An empty or expired sessionID yields a fresh
// session; a live one is refreshed.
func (s *Store) Identify(ctx context.Context, chatbotID, visitorID, sessionID string) (models.Identity, error) {
	if chatbotID == "" {
		return models.Identity{}, fmt.Errorf("identity: chatbot id required")
	}
	if visitorID == "" {
		visitorID = uuid.New().String()
	}

	var ident models.Identity

	err := s.updateWithRetry(ctx, func(txn *badger.Txn) error {
		marker, found := s.readMarker(txn, chatbotID, visitorID)

		ident = models.Identity{
			VisitorID:   visitorID,
			IsReturning: found,
		}

		sid, newSession, err := s.ensureSession(txn, chatbotID, visitorID, sessionID)
		if err != nil {
			return err
		}
		ident.SessionID = sid

		// A visit is a session, not an event: the count moves only when
		// a fresh session starts.
		switch {
		case !found:
			marker = visitorMarker{FirstSeen: time.Now().UTC(), Visits: 1}
		case newSession:
			marker.Visits++
		}
		ident.VisitCount = marker.Visits

		data, err := json.Marshal(marker)
		if err != nil {
			return fmt.Errorf("marshal visitor marker: %w", err)
		}
		if err := txn.Set(visitorKey(chatbotID, visitorID), data); err != nil {
			return fmt.Errorf("set visitor marker: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Identity{}, err
	}

	return ident, nil
}

// IsReturning reports whether the visitor has a durable visited-before
// marker, without mutating any state.
func (s *Store) IsReturning(ctx context.Context, chatbotID, visitorID string) (bool, error) {
	var returning bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, returning = s.readMarker(txn, chatbotID, visitorID)
		return nil
	})
	return returning, err
}

// VisitCount returns the visitor's recorded visit count, 0 when unknown.
func (s *Store) VisitCount(ctx context.Context, chatbotID, visitorID string) (int, error) {
	var count int
	err := s.db.View(func(txn *badger.Txn) error {
		marker, found := s.readMarker(txn, chatbotID, visitorID)
		if found {
			count = marker.Visits
		}
		return nil
	})
	return count, err
}

// readMarker loads the visitor marker inside txn. A missing or corrupt
// value is treated as not-present rather than an error.
func (s *Store) readMarker(txn *badger.Txn, chatbotID, visitorID string) (visitorMarker, bool) {
	var marker visitorMarker

	item, err := txn.Get(visitorKey(chatbotID, visitorID))
	if err != nil {
		return marker, false
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &marker)
	})
	if err != nil {
		// Corrupt value: treat as absent so identity can be re-established.
		return visitorMarker{}, false
	}
	return marker, true
}

// ensureSession validates the supplied session id or mints a new one.
// Session entries expire via Badger TTL; activity refreshes the TTL.
// The second return value reports whether a fresh session was created.
func (s *Store) ensureSession(txn *badger.Txn, chatbotID, visitorID, sessionID string) (string, bool, error) {
	if sessionID != "" {
		if _, err := txn.Get(sessionKey(chatbotID, visitorID, sessionID)); err == nil {
			entry := badger.NewEntry(sessionKey(chatbotID, visitorID, sessionID), []byte{1}).
				WithTTL(s.sessionTTL)
			if err := txn.SetEntry(entry); err != nil {
				return "", false, fmt.Errorf("refresh session: %w", err)
			}
			return sessionID, false, nil
		}
		// Unknown or expired session falls through to a fresh one.
	}

	sessionID = uuid.New().String()
	entry := badger.NewEntry(sessionKey(chatbotID, visitorID, sessionID), []byte{1}).
		WithTTL(s.sessionTTL)
	if err := txn.SetEntry(entry); err != nil {
		return "", false, fmt.Errorf("create session: %w", err)
	}
	return sessionID, true, nil
}

// updateWithRetry runs fn in a read-write transaction, retrying on Badger
// conflicts so concurrent identifications for the same visitor serialize
// instead of failing.
func (s *Store) updateWithRetry(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("identity: transaction conflict persisted: %w", err)
}

func visitorKey(chatbotID, visitorID string) []byte {
	return []byte(visitorKeyPrefix + chatbotID + ":" + visitorID)
}

func sessionKey(chatbotID, visitorID, sessionID string) []byte {
	return []byte(sessionKeyPrefix + chatbotID + ":" + visitorID + ":" + sessionID)
}
