// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package analytics

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb driver

	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/models"
)

// EventSink persists batches of visitor events.
type EventSink interface {
	InsertVisitorEvents(ctx context.Context, events []*models.VisitorEvent) error
	Close() error
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS visitor_events (
	id               VARCHAR PRIMARY KEY,
	event_type       VARCHAR NOT NULL,
	chatbot_id       VARCHAR NOT NULL,
	visitor_id       VARCHAR NOT NULL,
	session_id       VARCHAR,
	ts               TIMESTAMP NOT NULL,
	url              VARCHAR,
	referrer         VARCHAR,
	utm              VARCHAR,
	interaction      VARCHAR,
	campaign_id      BIGINT,
	is_returning     BOOLEAN,
	visit_count      INTEGER,
	time_on_page_sec INTEGER,
	user_agent       VARCHAR
)`

const insertEvent = `
INSERT INTO visitor_events
	(id, event_type, chatbot_id, visitor_id, session_id, ts, url, referrer,
	 utm, interaction, campaign_id, is_returning, visit_count,
	 time_on_page_sec, user_agent)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`

// DuckDBSink writes visitor events into an embedded DuckDB file.
type DuckDBSink struct {
	db *sql.DB
}

// OpenDuckDB opens (creating if needed) the analytics database and ensures
// the schema exists.
func OpenDuckDB(ctx context.Context, path string) (*DuckDBSink, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %s: %w", path, err)
	}

	// DuckDB is an embedded single-writer engine.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create visitor_events table: %w", err)
	}

	logging.Info().Str("path", path).Msg("analytics database opened")
	return &DuckDBSink{db: db}, nil
}

// InsertVisitorEvents writes a batch atomically. Duplicate event IDs are
// skipped via ON CONFLICT, so redelivered messages do not double-count.
func (s *DuckDBSink) InsertVisitorEvents(ctx context.Context, events []*models.VisitorEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		utm := ""
		if len(e.UTM) > 0 {
			raw, err := json.Marshal(e.UTM)
			if err != nil {
				return fmt.Errorf("serialize utm for event %s: %w", e.ID, err)
			}
			utm = string(raw)
		}

		var campaignID interface{}
		if e.CampaignID != 0 {
			campaignID = e.CampaignID
		}

		if _, err := stmt.ExecContext(ctx,
			e.ID, string(e.Type), e.ChatbotID, e.VisitorID, e.SessionID,
			e.Timestamp.UTC(), e.URL, e.Referrer, utm, e.Interaction,
			campaignID, e.IsReturning, e.VisitCount, e.TimeOnPageSec,
			e.UserAgent,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch insert: %w", err)
	}
	return nil
}

// CountEvents returns the number of stored events for one tenant.
// Used by tests and the readiness probe.
func (s *DuckDBSink) CountEvents(ctx context.Context, chatbotID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM visitor_events WHERE chatbot_id = ?", chatbotID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// Close closes the database.
func (s *DuckDBSink) Close() error {
	return s.db.Close()
}
