// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package analytics moves visitor events from the ingest path into DuckDB
// through a message bus, and carries cross-instance live updates.
//
// The bus is Watermill-based. With NATS enabled it runs on JetStream
// (optionally against an embedded server); otherwise an in-process
// go-channel Pub/Sub serves single-instance deployments with the same
// message semantics. Persistence failures never block ingest: the
// publisher sits behind a circuit breaker and drops on open circuit.
package analytics

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/rhinontech/engage/internal/config"
	"github.com/rhinontech/engage/internal/logging"
)

// Topics carried on the bus.
const (
	// TopicEvents carries normalized visitor events toward DuckDB.
	TopicEvents = "engage.events"

	// TopicLive carries room traffic between instances.
	TopicLive = "engage.live"
)

// Bus bundles the publisher and subscriber side of the analytics transport.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// shared marks the in-process transport where both sides are one
	// Pub/Sub and must only be closed once.
	shared   bool
	embedded *EmbeddedServer
}

// NewBus creates the transport selected by configuration.
// With NATS disabled both sides share one in-process go-channel Pub/Sub.
func NewBus(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	if logger == nil {
		logger = NewWatermillLogger()
	}

	if !cfg.Enabled {
		pubsub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger)
		logging.Info().Msg("analytics bus running in-process")
		return &Bus{Publisher: pubsub, Subscriber: pubsub, shared: true}, nil
	}

	bus := &Bus{}
	url := cfg.URL

	if cfg.EmbeddedServer {
		embedded, err := NewEmbeddedServer(cfg)
		if err != nil {
			return nil, fmt.Errorf("start embedded nats server: %w", err)
		}
		bus.embedded = embedded
		url = embedded.ClientURL()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		bus.closeEmbedded()
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	bus.Publisher = pub

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: "engage",
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: "engage",
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		bus.closeEmbedded()
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	bus.Subscriber = sub

	logging.Info().Str("url", url).Bool("embedded", cfg.EmbeddedServer).Msg("analytics bus connected to NATS")
	return bus, nil
}

// Close shuts the transport down. Safe when partially constructed.
func (b *Bus) Close() error {
	var firstErr error
	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.Subscriber != nil && !b.shared {
		if err := b.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.closeEmbedded()
	return firstErr
}

func (b *Bus) closeEmbedded() {
	if b.embedded != nil {
		b.embedded.Shutdown()
		b.embedded = nil
	}
}
