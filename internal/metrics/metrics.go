// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package metrics provides Prometheus instrumentation for Engage:
// event ingestion throughput and rejects, campaign deliveries, channel
// population, and analytics write-through health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics.
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_events_ingested_total",
			Help: "Total visitor events accepted by the ingestion pipeline",
		},
		[]string{"tenant", "type"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_events_rejected_total",
			Help: "Total inbound payloads rejected at ingestion",
		},
		[]string{"reason"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_events_dropped_total",
			Help: "Total events dropped because a tenant queue was full",
		},
		[]string{"tenant"},
	)

	// Targeting metrics.
	CampaignsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_campaigns_fired_total",
			Help: "Total positive campaign delivery decisions",
		},
		[]string{"tenant", "campaign_type"},
	)

	EvaluateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engage_evaluate_duration_seconds",
			Help:    "Duration of targeting engine evaluations",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Channel metrics.
	ChannelsConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engage_channels_connected",
			Help: "Currently connected channels by kind (widget, dashboard)",
		},
		[]string{"kind"},
	)

	ChannelSendsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engage_channel_sends_dropped_total",
			Help: "Messages dropped because a channel send buffer was full",
		},
	)

	// Analytics metrics.
	AnalyticsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engage_analytics_published_total",
			Help: "Events published to the analytics bus",
		},
	)

	AnalyticsPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engage_analytics_publish_errors_total",
			Help: "Failed analytics publishes (includes circuit breaker rejections)",
		},
	)

	AnalyticsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engage_analytics_rows_flushed_total",
			Help: "Event rows flushed to the analytics store",
		},
	)

	// HTTP metrics.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engage_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)
