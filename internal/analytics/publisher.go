// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package analytics

import (
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/metrics"
	"github.com/rhinontech/engage/internal/models"
)

// Publisher wraps the bus publisher with circuit breaker protection.
// Ingest must never block on a slow broker: when the breaker is open,
// events are dropped and counted.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[interface{}]
	origin         string
	mu             sync.RWMutex
	closed         bool
}

// NewPublisher creates a publisher on the given bus transport. origin
// identifies this instance in live-update envelopes.
func NewPublisher(pub message.Publisher, origin string) *Publisher {
	settings := gobreaker.Settings{
		Name:     "analytics-publish",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Publisher{
		publisher:      pub,
		circuitBreaker: gobreaker.NewCircuitBreaker[interface{}](settings),
		origin:         origin,
	}
}

// PublishEvent serializes a visitor event onto the events topic.
// The event ID doubles as the NATS message ID for deduplication.
func (p *Publisher) PublishEvent(event *models.VisitorEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("chatbot_id", event.ChatbotID)

	return p.publish(TopicEvents, msg)
}

// PublishLive publishes a live-update envelope for other instances.
func (p *Publisher) PublishLive(update interface{}, id string) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("serialize live update: %w", err)
	}
	return p.publish(TopicLive, message.NewMessage(id, payload))
}

func (p *Publisher) publish(topic string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	_, err := p.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, p.publisher.Publish(topic, msg)
	})
	if err != nil {
		metrics.AnalyticsPublishErrors.Inc()
		return err
	}
	metrics.AnalyticsPublished.Inc()
	return nil
}

// Origin returns this instance's identity for live-update envelopes.
func (p *Publisher) Origin() string {
	return p.origin
}

// BreakerState reports the circuit breaker state for health checks.
func (p *Publisher) BreakerState() string {
	return p.circuitBreaker.State().String()
}

// Close marks the publisher closed. The underlying transport is owned by
// the Bus and closed there.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
