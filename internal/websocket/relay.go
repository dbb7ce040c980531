// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/rhinontech/engage/internal/logging"
)

// LiveUpdate is the envelope published on the live-update topic so that
// dashboards connected to other instances see the same room traffic.
type LiveUpdate struct {
	Origin    string      `json:"origin"`
	ChatbotID string      `json:"chatbot_id"`
	VisitorID string      `json:"visitor_id,omitempty"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// MessageSource abstracts the bus subscription the relay consumes.
type MessageSource interface {
	// Subscribe subscribes to a topic and returns a channel of raw payloads.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	// Close releases resources.
	Close() error
}

// Relay bridges the live-update bus to the local hub. Each instance
// publishes its own room traffic with an origin tag and relays everyone
// else's, so a dashboard can connect to any instance.
type Relay struct {
	hub    *Hub
	source MessageSource
	origin string
	topic  string

	// stopCh and doneCh belong to the current consume loop and are
	// replaced on every Start, so a supervised restart after a failed
	// or finished run subscribes again.
	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRelay creates a relay for the given hub. origin identifies this
// instance; envelopes carrying the same origin are skipped to avoid
// double delivery.
func NewRelay(hub *Hub, source MessageSource, origin, topic string) *Relay {
	return &Relay{
		hub:    hub,
		source: source,
		origin: origin,
		topic:  topic,
	}
}

// Start subscribes to the live-update topic and forwards to the hub.
// Idempotent while a consume loop is running; a failed subscribe leaves
// the relay stopped so the next Start tries again.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.doneCh != nil {
		select {
		case <-r.doneCh: // Previous loop exited with its context.
		default:
			return nil
		}
	}

	messages, err := r.source.Subscribe(ctx, r.topic)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	r.stopCh = stop
	r.doneCh = done
	go r.processMessages(ctx, messages, stop, done)

	logging.Info().Str("topic", r.topic).Str("origin", r.origin).Msg("live-update relay started")
	return nil
}

// Stop stops the relay and waits for the consume loop to exit.
func (r *Relay) Stop() {
	r.mu.Lock()
	stop := r.stopCh
	done := r.doneCh
	r.stopCh = nil
	r.doneCh = nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	logging.Info().Msg("live-update relay stopped")
}

func (r *Relay) processMessages(ctx context.Context, messages <-chan []byte, stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case data, ok := <-messages:
			if !ok {
				return
			}
			r.handleMessage(data)
		}
	}
}

func (r *Relay) handleMessage(data []byte) {
	var update LiveUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		logging.Warn().Err(err).Msg("failed to unmarshal live update")
		return
	}
	if update.Origin == r.origin {
		// Already delivered locally by the publishing instance.
		return
	}
	if update.ChatbotID == "" {
		return
	}

	switch update.Type {
	case MessageTypeVisitorUpdate, MessageTypeCampaignFired:
		r.hub.BroadcastToDashboard(update.ChatbotID, update.Type, update.Data)
	case MessageTypeShowCampaign, MessageTypeOpenChat:
		if update.VisitorID == "" {
			return
		}
		r.hub.SendToVisitor(update.ChatbotID, update.VisitorID, update.Type, update.Data)
	default:
		logging.Debug().Str("type", update.Type).Msg("ignoring unknown live update type")
	}
}
