// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package presence

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/rhinontech/engage/internal/models"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertAndList(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	stored, err := s.Upsert(ctx, models.LiveVisitor{
		ChatbotID: "acme",
		VisitorID: "v-1",
		IPAddress: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !stored.IsOnline {
		t.Error("upserted visitor should be online")
	}
	if stored.LastSeen.IsZero() {
		t.Error("upsert should stamp last_seen")
	}

	visitors, err := s.List(ctx, "acme")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(visitors) != 1 || visitors[0].VisitorID != "v-1" {
		t.Fatalf("List = %+v, want single v-1", visitors)
	}
}

func TestMarkOffline(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	if _, err := s.Upsert(ctx, models.LiveVisitor{ChatbotID: "acme", VisitorID: "v-1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkOffline(ctx, "acme", "v-1"); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}

	visitors, err := s.List(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(visitors) != 1 || visitors[0].IsOnline {
		t.Errorf("visitor should be retained offline, got %+v", visitors)
	}

	// Unknown visitors are a no-op, not an error.
	if err := s.MarkOffline(ctx, "acme", "ghost"); err != nil {
		t.Errorf("MarkOffline unknown visitor: %v", err)
	}
}

func TestListTenantIsolation(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	if _, err := s.Upsert(ctx, models.LiveVisitor{ChatbotID: "acme", VisitorID: "v-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upsert(ctx, models.LiveVisitor{ChatbotID: "globex", VisitorID: "v-2"}); err != nil {
		t.Fatal(err)
	}

	acme, err := s.List(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range acme {
		if v.ChatbotID != "acme" {
			t.Errorf("cross-tenant leak in listing: %+v", v)
		}
	}
	if len(acme) != 1 {
		t.Errorf("acme listing has %d entries, want 1", len(acme))
	}
}

func TestListOrdersOnlineFirst(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"v-1", "v-2", "v-3"} {
		if _, err := s.Upsert(ctx, models.LiveVisitor{ChatbotID: "acme", VisitorID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkOffline(ctx, "acme", "v-2"); err != nil {
		t.Fatal(err)
	}

	visitors, err := s.List(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(visitors) != 3 {
		t.Fatalf("got %d visitors, want 3", len(visitors))
	}
	if visitors[len(visitors)-1].VisitorID != "v-2" {
		t.Errorf("offline visitor should sort last, got order %+v", visitors)
	}
}
