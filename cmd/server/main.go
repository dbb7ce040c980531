// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package main is the entry point for the Engage server.
//
// Engage tracks visitor sessions for Rhinon's embeddable chat widget and
// decides when targeted campaigns fire. One process hosts the whole
// surface: widget event ingestion, tenant-scoped websocket rooms for
// widgets and dashboards, campaign evaluation, and a write-only DuckDB
// analytics sink fed through a Watermill bus (in-process by default,
// NATS JetStream when configured).
//
// # Startup order
//
//  1. Configuration (koanf: defaults, optional YAML file, environment)
//  2. Logging (zerolog)
//  3. BadgerDB for identity, presence, and campaign view records
//  4. Campaign configuration load
//  5. Analytics bus, publisher, and DuckDB sink (when enabled)
//  6. Ingest pipeline and websocket hub
//  7. HTTP router and supervision tree
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the root context. The supervision tree stops
// its layers, the HTTP server drains within the shutdown timeout, and
// buffered analytics events are flushed before the process exits.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rhinontech/engage/internal/analytics"
	"github.com/rhinontech/engage/internal/api"
	"github.com/rhinontech/engage/internal/auth"
	"github.com/rhinontech/engage/internal/campaigns"
	"github.com/rhinontech/engage/internal/config"
	"github.com/rhinontech/engage/internal/identity"
	"github.com/rhinontech/engage/internal/ingest"
	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/presence"
	"github.com/rhinontech/engage/internal/store"
	"github.com/rhinontech/engage/internal/supervisor"
	"github.com/rhinontech/engage/internal/supervisor/services"
	"github.com/rhinontech/engage/internal/targeting"
	"github.com/rhinontech/engage/internal/tenant"
	ws "github.com/rhinontech/engage/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Bool("analytics", cfg.Analytics.Enabled).
		Bool("nats", cfg.NATS.Enabled).
		Msg("starting engage")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open state store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing state store")
		}
	}()

	campaignStore := campaigns.NewStore(cfg.Campaigns)
	if err := campaignStore.Load(ctx); err != nil {
		// Served tenants get empty snapshots until the refresher succeeds.
		logging.Error().Err(err).Str("path", cfg.Campaigns.Path).
			Msg("initial campaign load failed")
	}

	// origin tags live updates published by this instance so the relay
	// can skip its own traffic when peers share a NATS cluster.
	origin := uuid.New().String()

	bus, err := analytics.NewBus(cfg.NATS, analytics.NewWatermillLogger())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to start analytics bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing analytics bus")
		}
	}()

	publisher := analytics.NewPublisher(bus.Publisher, origin)
	defer func() { _ = publisher.Close() }()

	presenceStore := presence.NewStore(db)
	hub := ws.NewHub(nil)
	pipeline := ingest.NewPipeline(
		identity.NewStore(db, cfg.Storage.SessionTTL),
		presenceStore,
		targeting.NewEngine(db, cfg.Engine.DefaultMaxViews, cfg.Engine.DefaultCooldown),
		campaignStore,
		hub,
		publisher,
		cfg.Ingest,
	)
	hub.SetNotifier(pipeline)

	tree := supervisor.NewTree(
		slog.New(logging.NewSlogHandler()),
		supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout},
	)

	tree.AddRealtimeService(services.NewRunnerService("websocket-hub", hub))
	tree.AddRealtimeService(services.NewRunnerService("ingest-pipeline", pipeline))
	tree.AddRealtimeService(services.NewRunnerService("campaign-refresher", campaignStore))

	relay := ws.NewRelay(hub, analytics.NewSubscriberSource(bus.Subscriber), origin, analytics.TopicLive)
	tree.AddRealtimeService(services.NewRelayService(relay))

	var appender *analytics.Appender
	if cfg.Analytics.Enabled {
		sink, err := analytics.OpenDuckDB(ctx, cfg.Analytics.DuckDBPath)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Analytics.DuckDBPath).
				Msg("failed to open analytics store")
		}
		defer func() {
			if err := sink.Close(); err != nil {
				logging.Error().Err(err).Msg("error closing analytics store")
			}
		}()

		appender, err = analytics.NewAppender(sink, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to create analytics appender")
		}

		consumer, err := analytics.NewConsumer(bus.Subscriber, appender)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to create analytics consumer")
		}
		tree.AddAnalyticsService(services.NewRunnerService("analytics-consumer", consumer))
	}

	handler := api.NewHandler(
		cfg,
		pipeline,
		campaignStore,
		presenceStore,
		hub,
		auth.NewVerifier(cfg.Auth.DashboardSecret),
	)
	router := api.NewRouter(handler, tenant.NewResolver(cfg.Tenant.DevTenantID, cfg.Tenant.LocalMarker))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", cfg.Server.Addr).Msg("engage ready")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor tree failed")
	}

	// Flush buffered analytics before the deferred closes run.
	if appender != nil {
		if err := appender.Close(); err != nil {
			logging.Error().Err(err).Msg("final analytics flush failed")
		}
	}

	logging.Info().Msg("engage stopped")
}
