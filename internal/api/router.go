// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhinontech/engage/internal/middleware"
	"github.com/rhinontech/engage/internal/models"
	"github.com/rhinontech/engage/internal/tenant"
)

// Router assembles the HTTP surface.
type Router struct {
	handler  *Handler
	resolver *tenant.Resolver
}

// NewRouter creates a router around a wired handler.
func NewRouter(handler *Handler, resolver *tenant.Resolver) *Router {
	return &Router{handler: handler, resolver: resolver}
}

// Setup builds the chi route tree.
//
// Rate limiting applies only to the ingest routes: they face the open
// internet through every customer's pages, while the read endpoints sit
// behind dashboards and the widget's own backoff.
func (router *Router) Setup() http.Handler {
	cfg := router.handler.config

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Tenant(router.resolver))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	// Health endpoints stay unmetered so probes never trip a limiter.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Route("/track", func(r chi.Router) {
		r.Use(middleware.Metrics)
		if cfg.Server.RateLimit > 0 {
			r.Use(httprate.LimitByRealIP(cfg.Server.RateLimit, time.Minute))
		}
		r.Post("/pageview", router.handler.Track(models.EventPageview))
		r.Post("/engagement", router.handler.Track(models.EventEngagement))
		r.Post("/session", router.handler.Track(models.EventSessionStart))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Metrics)
		r.Use(chimiddleware.Compress(5, "application/json"))
		r.Get("/campaigns/{chatbotID}", router.handler.Campaigns)
		r.Get("/visitors/{chatbotID}", router.handler.Visitors)
	})

	r.Get("/ws", router.handler.WebSocket)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
