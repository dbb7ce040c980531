// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package ingest normalizes widget events, maintains visitor identity and
// presence, drives the targeting engine, and fans results out to the
// websocket hub and the analytics bus.
//
// Events are queued per tenant and consumed by one goroutine per tenant,
// so a single visitor's events are evaluated in arrival order while
// tenants stay independent. A full queue drops rather than blocking the
// HTTP caller.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rhinontech/engage/internal/campaigns"
	"github.com/rhinontech/engage/internal/config"
	"github.com/rhinontech/engage/internal/identity"
	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/metrics"
	"github.com/rhinontech/engage/internal/models"
	"github.com/rhinontech/engage/internal/presence"
	"github.com/rhinontech/engage/internal/targeting"
	"github.com/rhinontech/engage/internal/websocket"
)

// Reject errors. Handlers map these to 400 responses; everything else is
// a 500.
var (
	ErrMissingTenant    = errors.New("event has no tenant")
	ErrMissingVisitor   = errors.New("event has no visitor id")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrClockSkew        = errors.New("event timestamp outside accepted window")
	ErrInvalidPayload   = errors.New("invalid event payload")
)

// RejectReason maps a reject error to its metrics label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingTenant):
		return "missing_tenant"
	case errors.Is(err, ErrMissingVisitor):
		return "missing_visitor"
	case errors.Is(err, ErrUnknownEventType):
		return "unknown_type"
	case errors.Is(err, ErrClockSkew):
		return "clock_skew"
	default:
		return "invalid"
	}
}

// IsReject reports whether the error is a payload reject rather than an
// internal failure.
func IsReject(err error) bool {
	return errors.Is(err, ErrMissingTenant) ||
		errors.Is(err, ErrMissingVisitor) ||
		errors.Is(err, ErrUnknownEventType) ||
		errors.Is(err, ErrClockSkew) ||
		errors.Is(err, ErrInvalidPayload)
}

// RawEvent is the wire payload accepted by the /track endpoints. The
// event type comes from the route; the tenant from host resolution.
type RawEvent struct {
	VisitorID     string            `json:"visitor_id" validate:"required,max=128"`
	SessionID     string            `json:"session_id" validate:"max=128"`
	Timestamp     time.Time         `json:"timestamp"`
	URL           string            `json:"url" validate:"omitempty,max=2048"`
	Referrer      string            `json:"referrer" validate:"omitempty,max=2048"`
	UTM           map[string]string `json:"utm" validate:"omitempty,max=16"`
	Interaction   string            `json:"interaction" validate:"omitempty,max=64"`
	TimeOnPageSec int               `json:"time_on_page_sec" validate:"min=0"`
	UserAgent     string            `json:"user_agent" validate:"omitempty,max=512"`
}

// Broadcaster is the hub surface the pipeline needs.
type Broadcaster interface {
	BroadcastToDashboard(chatbotID, messageType string, data interface{})
	SendToVisitor(chatbotID, visitorID, messageType string, data interface{})
}

// EventPublisher is the analytics surface the pipeline needs.
type EventPublisher interface {
	PublishEvent(event *models.VisitorEvent) error
	PublishLive(update interface{}, id string) error
	Origin() string
}

// Pipeline owns normalization, per-tenant queues, and fan-out.
type Pipeline struct {
	identity  *identity.Store
	presence  *presence.Store
	engine    *targeting.Engine
	campaigns *campaigns.Store
	hub       Broadcaster
	publisher EventPublisher
	validate  *validator.Validate

	skewWindow    time.Duration
	queueCapacity int
	now           func() time.Time

	mu      sync.Mutex
	queues  map[string]chan *models.VisitorEvent
	runCtx  context.Context
	running bool
	wg      sync.WaitGroup
}

// NewPipeline wires the pipeline. hub and publisher may not be nil.
func NewPipeline(
	ids *identity.Store,
	pres *presence.Store,
	engine *targeting.Engine,
	camps *campaigns.Store,
	hub Broadcaster,
	pub EventPublisher,
	cfg config.IngestConfig,
) *Pipeline {
	return &Pipeline{
		identity:      ids,
		presence:      pres,
		engine:        engine,
		campaigns:     camps,
		hub:           hub,
		publisher:     pub,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		skewWindow:    cfg.ClockSkewWindow,
		queueCapacity: cfg.QueueCapacity,
		now:           time.Now,
		queues:        make(map[string]chan *models.VisitorEvent),
	}
}

// RunWithContext anchors the per-tenant consumers. It must be running
// before Ingest is called; it blocks until the context is canceled and
// all consumers have drained.
func (p *Pipeline) RunWithContext(ctx context.Context) error {
	p.mu.Lock()
	p.runCtx = ctx
	p.running = true
	p.mu.Unlock()

	<-ctx.Done()

	p.mu.Lock()
	p.running = false
	for tenant, q := range p.queues {
		close(q)
		delete(p.queues, tenant)
	}
	p.mu.Unlock()

	p.wg.Wait()
	logging.Info().Str("component", "ingest-pipeline").Msg("ingest pipeline stopped")
	return ctx.Err()
}

// Ingest normalizes and enqueues one event. It returns the normalized
// event on acceptance. Reject errors satisfy IsReject; the caller maps
// them to 400.
func (p *Pipeline) Ingest(ctx context.Context, eventType models.EventType, chatbotID string, raw *RawEvent) (*models.VisitorEvent, error) {
	ev, err := p.normalize(eventType, chatbotID, raw)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(RejectReason(err)).Inc()
		return nil, err
	}

	id, err := p.identity.Identify(ctx, ev.ChatbotID, ev.VisitorID, ev.SessionID)
	if err != nil {
		return nil, fmt.Errorf("identify visitor: %w", err)
	}
	ev.SessionID = id.SessionID
	ev.IsReturning = id.IsReturning
	ev.VisitCount = id.VisitCount

	if err := p.enqueue(ev); err != nil {
		return nil, err
	}

	metrics.EventsIngested.WithLabelValues(ev.ChatbotID, string(ev.Type)).Inc()
	return ev, nil
}

func (p *Pipeline) normalize(eventType models.EventType, chatbotID string, raw *RawEvent) (*models.VisitorEvent, error) {
	switch eventType {
	case models.EventPageview, models.EventEngagement, models.EventSessionStart:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if chatbotID == "" {
		return nil, ErrMissingTenant
	}
	if raw == nil || raw.VisitorID == "" {
		return nil, ErrMissingVisitor
	}
	if err := p.validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	// Widgets send utm keys however the page URL spelled them; targeting
	// looks them up lowercased.
	utm := raw.UTM
	if len(utm) > 0 {
		normalized := make(map[string]string, len(utm))
		for key, value := range utm {
			normalized[strings.ToLower(key)] = value
		}
		utm = normalized
	}

	now := p.now().UTC()
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = now
	} else {
		ts = ts.UTC()
		if d := now.Sub(ts); d > p.skewWindow || d < -p.skewWindow {
			return nil, fmt.Errorf("%w: %s", ErrClockSkew, ts.Format(time.RFC3339))
		}
	}

	return &models.VisitorEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		ChatbotID:     chatbotID,
		VisitorID:     raw.VisitorID,
		SessionID:     raw.SessionID,
		Timestamp:     ts,
		URL:           raw.URL,
		Referrer:      raw.Referrer,
		UTM:           utm,
		Interaction:   raw.Interaction,
		TimeOnPageSec: raw.TimeOnPageSec,
		UserAgent:     raw.UserAgent,
	}, nil
}

// enqueue places the event on its tenant queue, spawning the consumer on
// first use. Full queues drop.
func (p *Pipeline) enqueue(ev *models.VisitorEvent) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("ingest pipeline is not running")
	}
	q, ok := p.queues[ev.ChatbotID]
	if !ok {
		q = make(chan *models.VisitorEvent, p.queueCapacity)
		p.queues[ev.ChatbotID] = q
		p.wg.Add(1)
		go p.consume(p.runCtx, ev.ChatbotID, q)
	}
	p.mu.Unlock()

	select {
	case q <- ev:
		return nil
	default:
		metrics.EventsDropped.WithLabelValues(ev.ChatbotID).Inc()
		logging.Warn().
			Str("chatbot_id", ev.ChatbotID).
			Str("event_id", ev.ID).
			Msg("tenant queue full, dropping event")
		return nil
	}
}

// consume is the single consumer goroutine for one tenant's queue.
func (p *Pipeline) consume(ctx context.Context, chatbotID string, q <-chan *models.VisitorEvent) {
	defer p.wg.Done()

	for ev := range q {
		p.process(ctx, chatbotID, ev)
	}
}

func (p *Pipeline) process(ctx context.Context, chatbotID string, ev *models.VisitorEvent) {
	log := logging.Ctx(ctx)

	if ev.Type == models.EventPageview {
		p.touchPresence(ctx, ev)
	}

	// Analytics is fire and forget; the publisher's breaker handles a
	// down broker.
	if err := p.publisher.PublishEvent(ev); err != nil {
		log.Debug().Err(err).Str("event_id", ev.ID).Msg("analytics publish failed")
	}

	start := time.Now()
	selected, err := p.engine.Evaluate(ctx, ev, p.campaigns.Snapshot(chatbotID))
	metrics.EvaluateDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("campaign evaluation failed")
		return
	}
	if selected == nil {
		return
	}

	p.deliver(ctx, ev, selected)
}

// deliver pushes a positive decision to the visitor, notifies the
// dashboard, and records the impression.
func (p *Pipeline) deliver(ctx context.Context, ev *models.VisitorEvent, c *models.Campaign) {
	log := logging.Ctx(ctx)
	log.Info().
		Str("chatbot_id", ev.ChatbotID).
		Str("visitor_id", ev.VisitorID).
		Int64("campaign_id", c.ID).
		Str("campaign_type", string(c.Type)).
		Msg("campaign selected")

	p.hub.SendToVisitor(ev.ChatbotID, ev.VisitorID, websocket.MessageTypeShowCampaign, c)

	fired := map[string]interface{}{
		"campaign_id":   c.ID,
		"campaign_name": c.Name,
		"visitor_id":    ev.VisitorID,
		"fired_at":      p.now().UTC(),
	}
	p.hub.BroadcastToDashboard(ev.ChatbotID, websocket.MessageTypeCampaignFired, fired)
	p.publishLive(&websocket.LiveUpdate{
		Origin:    p.publisher.Origin(),
		ChatbotID: ev.ChatbotID,
		VisitorID: ev.VisitorID,
		Type:      websocket.MessageTypeShowCampaign,
		Data:      c,
		Timestamp: p.now().UTC(),
	})

	impression := &models.VisitorEvent{
		ID:          uuid.NewString(),
		Type:        models.EventImpression,
		ChatbotID:   ev.ChatbotID,
		VisitorID:   ev.VisitorID,
		SessionID:   ev.SessionID,
		Timestamp:   p.now().UTC(),
		URL:         ev.URL,
		CampaignID:  c.ID,
		IsReturning: ev.IsReturning,
		VisitCount:  ev.VisitCount,
	}
	if err := p.publisher.PublishEvent(impression); err != nil {
		log.Debug().Err(err).Int64("campaign_id", c.ID).Msg("impression publish failed")
	}
}

// touchPresence refreshes the visitor's presence record and pushes a
// visitor_update to the dashboard room.
func (p *Pipeline) touchPresence(ctx context.Context, ev *models.VisitorEvent) {
	live, err := p.presence.Upsert(ctx, models.LiveVisitor{
		ChatbotID: ev.ChatbotID,
		VisitorID: ev.VisitorID,
		LastSeen:  ev.Timestamp,
		IsOnline:  true,
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("visitor_id", ev.VisitorID).
			Msg("presence upsert failed")
		return
	}
	p.notifyDashboard(ev.ChatbotID, live)
}

// VisitorConnected implements websocket.PresenceNotifier.
func (p *Pipeline) VisitorConnected(ctx context.Context, chatbotID, visitorID string) {
	live, err := p.presence.Upsert(ctx, models.LiveVisitor{
		ChatbotID: chatbotID,
		VisitorID: visitorID,
		LastSeen:  p.now().UTC(),
		IsOnline:  true,
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("visitor_id", visitorID).Msg("presence upsert failed")
		return
	}
	p.notifyDashboard(chatbotID, live)
}

// VisitorDisconnected implements websocket.PresenceNotifier.
func (p *Pipeline) VisitorDisconnected(ctx context.Context, chatbotID, visitorID string) {
	if err := p.presence.MarkOffline(ctx, chatbotID, visitorID); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("visitor_id", visitorID).Msg("presence mark-offline failed")
		return
	}
	p.notifyDashboard(chatbotID, models.LiveVisitor{
		ChatbotID: chatbotID,
		VisitorID: visitorID,
		LastSeen:  p.now().UTC(),
		IsOnline:  false,
	})
}

func (p *Pipeline) notifyDashboard(chatbotID string, live models.LiveVisitor) {
	p.hub.BroadcastToDashboard(chatbotID, websocket.MessageTypeVisitorUpdate, live)
	p.publishLive(&websocket.LiveUpdate{
		Origin:    p.publisher.Origin(),
		ChatbotID: chatbotID,
		Type:      websocket.MessageTypeVisitorUpdate,
		Data:      live,
		Timestamp: p.now().UTC(),
	})
}

func (p *Pipeline) publishLive(update *websocket.LiveUpdate) {
	if err := p.publisher.PublishLive(update, uuid.NewString()); err != nil {
		logging.Debug().Err(err).Str("type", update.Type).Msg("live update publish failed")
	}
}
