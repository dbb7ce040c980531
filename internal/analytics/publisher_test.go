// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/rhinontech/engage/internal/models"
)

func TestPublisherRoundTrip(t *testing.T) {
	bus := newInProcessBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := bus.Subscriber.Subscribe(ctx, TopicEvents)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub := NewPublisher(bus.Publisher, "test-instance")
	want := testEvent("e-1")
	if err := pub.PublishEvent(want); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	select {
	case msg := <-messages:
		msg.Ack()
		var got models.VisitorEvent
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if got.ID != want.ID || got.ChatbotID != want.ChatbotID || got.Type != want.Type {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
		if msg.Metadata.Get("event_type") != string(models.EventPageview) {
			t.Errorf("event_type metadata = %q", msg.Metadata.Get("event_type"))
		}
		if msg.Metadata.Get("chatbot_id") != "acme" {
			t.Errorf("chatbot_id metadata = %q", msg.Metadata.Get("chatbot_id"))
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestPublisherPublishLive(t *testing.T) {
	bus := newInProcessBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := bus.Subscriber.Subscribe(ctx, TopicLive)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub := NewPublisher(bus.Publisher, "instance-a")
	update := map[string]interface{}{"origin": pub.Origin(), "type": "visitor_update"}
	if err := pub.PublishLive(update, "u-1"); err != nil {
		t.Fatalf("PublishLive: %v", err)
	}

	select {
	case msg := <-messages:
		msg.Ack()
		var got map[string]interface{}
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if got["origin"] != "instance-a" {
			t.Errorf("origin = %v, want instance-a", got["origin"])
		}
	case <-time.After(time.Second):
		t.Fatal("no live update received")
	}
}

// failingPublisher always errors, for breaker tests.
type failingPublisher struct{}

func (failingPublisher) Publish(string, ...*message.Message) error {
	return fmt.Errorf("broker down")
}

func (failingPublisher) Close() error { return nil }

func TestPublisherBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	pub := NewPublisher(failingPublisher{}, "test-instance")

	for i := 0; i < 6; i++ {
		_ = pub.PublishEvent(testEvent(fmt.Sprintf("e-%d", i)))
	}

	if state := pub.BreakerState(); state != "open" {
		t.Errorf("breaker state = %q, want open", state)
	}

	err := pub.PublishEvent(testEvent("e-final"))
	if err == nil {
		t.Error("expected publish to fail fast with open breaker")
	}
}

func TestPublisherClosedRejectsPublish(t *testing.T) {
	bus := newInProcessBus(t)
	pub := NewPublisher(bus.Publisher, "test-instance")

	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pub.PublishEvent(testEvent("e-1")); err == nil {
		t.Error("expected publish on closed publisher to fail")
	}
}
