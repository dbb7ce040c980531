// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
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

func TestIdentifyFirstContact(t *testing.T) {
	s := NewStore(newTestDB(t), 30*time.Minute)

	ident, err := s.Identify(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if ident.VisitorID == "" {
		t.Error("expected generated visitor id")
	}
	if ident.SessionID == "" {
		t.Error("expected generated session id")
	}
	if ident.IsReturning {
		t.Error("first contact must not be returning")
	}
	if ident.VisitCount != 1 {
		t.Errorf("VisitCount = %d, want 1", ident.VisitCount)
	}
}

func TestIdentifyReturningExactlyOnceFalse(t *testing.T) {
	s := NewStore(newTestDB(t), 30*time.Minute)
	ctx := context.Background()

	first, err := s.Identify(ctx, "acme", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if first.IsReturning {
		t.Fatal("first identify must report IsReturning=false")
	}

	for i := 0; i < 5; i++ {
		ident, err := s.Identify(ctx, "acme", first.VisitorID, "")
		if err != nil {
			t.Fatal(err)
		}
		if !ident.IsReturning {
			t.Fatalf("identify call %d: IsReturning=false, want true", i+2)
		}
		if ident.VisitCount != i+2 {
			t.Errorf("identify call %d: VisitCount = %d, want %d", i+2, ident.VisitCount, i+2)
		}
	}
}

func TestIdentifyConcurrentDuplicateInit(t *testing.T) {
	s := NewStore(newTestDB(t), 30*time.Minute)
	ctx := context.Background()

	// Seed the visitor so it is durably returning.
	seed, err := s.Identify(ctx, "acme", "", "")
	if err != nil {
		t.Fatal(err)
	}

	// Many concurrent re-identifications (multiple tabs) must all see
	// returning=true; none may flip the visitor back to new.
	const workers = 16
	var wg sync.WaitGroup
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ident, err := s.Identify(ctx, "acme", seed.VisitorID, "")
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = ident.IsReturning
		}(i)
	}
	wg.Wait()

	for i, returning := range results {
		if !returning {
			t.Errorf("worker %d observed IsReturning=false for a seeded visitor", i)
		}
	}
}

func TestIdentifySessionReuse(t *testing.T) {
	s := NewStore(newTestDB(t), 30*time.Minute)
	ctx := context.Background()

	first, err := s.Identify(ctx, "acme", "", "")
	if err != nil {
		t.Fatal(err)
	}

	again, err := s.Identify(ctx, "acme", first.VisitorID, first.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if again.SessionID != first.SessionID {
		t.Errorf("live session should be reused: got %q, want %q", again.SessionID, first.SessionID)
	}
	if again.VisitCount != first.VisitCount {
		t.Errorf("VisitCount moved within one session: %d -> %d", first.VisitCount, again.VisitCount)
	}

	unknown, err := s.Identify(ctx, "acme", first.VisitorID, "no-such-session")
	if err != nil {
		t.Fatal(err)
	}
	if unknown.SessionID == "no-such-session" {
		t.Error("unknown session id must not be adopted")
	}
}

func TestIdentifyTenantsIsolated(t *testing.T) {
	s := NewStore(newTestDB(t), 30*time.Minute)
	ctx := context.Background()

	ident, err := s.Identify(ctx, "acme", "v-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if ident.IsReturning {
		t.Fatal("fresh visitor on acme should be new")
	}

	// Same visitor id under a different tenant is a distinct identity.
	other, err := s.Identify(ctx, "globex", "v-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if other.IsReturning {
		t.Error("visitor must not be returning under a different tenant")
	}
}

func TestIsReturningDoesNotMutate(t *testing.T) {
	s := NewStore(newTestDB(t), 30*time.Minute)
	ctx := context.Background()

	returning, err := s.IsReturning(ctx, "acme", "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if returning {
		t.Error("unknown visitor reported as returning")
	}

	// The read must not have created a marker.
	ident, err := s.Identify(ctx, "acme", "ghost", "")
	if err != nil {
		t.Fatal(err)
	}
	if ident.IsReturning {
		t.Error("IsReturning read must not create the visited-before marker")
	}
}
