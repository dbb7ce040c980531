// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package store owns the BadgerDB handle shared by the identity store,
// presence tracking, and the targeting engine's view records.
package store

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/rhinontech/engage/internal/config"
	"github.com/rhinontech/engage/internal/logging"
)

// Open opens the BadgerDB instance described by cfg.
// The caller owns the returned handle and must Close it on shutdown.
func Open(cfg config.StorageConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}
	return db, nil
}

// badgerLogger adapts badger.Logger onto zerolog. Badger's own INFO output
// is chatty, so it is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}
