// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package analytics

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// SubscriberSource adapts a Watermill subscriber to a raw payload channel.
// The websocket relay consumes it without depending on Watermill types.
// Messages are acked as they are handed off; live updates are fire and
// forget.
type SubscriberSource struct {
	subscriber message.Subscriber
}

// NewSubscriberSource wraps the given subscriber.
func NewSubscriberSource(sub message.Subscriber) *SubscriberSource {
	return &SubscriberSource{subscriber: sub}
}

// Subscribe subscribes to a topic and returns a channel of raw payloads.
// The channel closes when the context is canceled or the transport closes.
func (s *SubscriberSource) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	messages, err := s.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			msg.Ack()
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the Bus owns the underlying subscriber.
func (s *SubscriberSource) Close() error {
	return nil
}
