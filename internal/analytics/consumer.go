// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package analytics

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/models"
)

// Consumer drains the events topic into the appender. Messages are acked
// once buffered; the appender's retry-on-flush-failure covers sink
// hiccups, and the ON CONFLICT insert covers broker redelivery.
type Consumer struct {
	subscriber message.Subscriber
	appender   *Appender
}

// NewConsumer creates a consumer over the given transport and appender.
func NewConsumer(sub message.Subscriber, appender *Appender) (*Consumer, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber required")
	}
	if appender == nil {
		return nil, fmt.Errorf("appender required")
	}
	return &Consumer{subscriber: sub, appender: appender}, nil
}

// RunWithContext consumes until the context is canceled. Designed for
// suture supervision. The appender is started here but stays open across
// restarts; the owner closes it once the supervisor has stopped.
func (c *Consumer) RunWithContext(ctx context.Context) error {
	if err := c.appender.Start(ctx); err != nil {
		return fmt.Errorf("start appender: %w", err)
	}

	messages, err := c.subscriber.Subscribe(ctx, TopicEvents)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", TopicEvents, err)
	}

	logging.Info().Str("topic", TopicEvents).Msg("analytics consumer started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().
				Str("component", "analytics-consumer").
				Msg("analytics consumer stopped")
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handleMessage(msg)
		}
	}
}

func (c *Consumer) handleMessage(msg *message.Message) {
	var event models.VisitorEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// Malformed payloads can never succeed; ack to keep them out of
		// the redelivery loop.
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed analytics event")
		msg.Ack()
		return
	}

	if err := c.appender.Append(&event); err != nil {
		logging.Error().Err(err).Str("event_id", event.ID).Msg("failed to buffer analytics event")
		msg.Nack()
		return
	}
	msg.Ack()
}

// Flush exposes a synchronous flush, used by tests and shutdown hooks.
func (c *Consumer) Flush(ctx context.Context) error {
	return c.appender.Flush(ctx)
}
