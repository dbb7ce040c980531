// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package services

import (
	"context"
	"fmt"
)

// Relay matches the live-update relay's start/stop lifecycle.
type Relay interface {
	Start(ctx context.Context) error
	Stop()
}

// RelayService wraps the cross-instance live-update relay. The relay
// runs its own goroutine after Start, so Serve just parks on the context
// and stops the relay on cancellation.
type RelayService struct {
	relay Relay
}

// NewRelayService creates the wrapper.
func NewRelayService(relay Relay) *RelayService {
	return &RelayService{relay: relay}
}

// Serve implements suture.Service.
func (s *RelayService) Serve(ctx context.Context) error {
	if err := s.relay.Start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	<-ctx.Done()
	s.relay.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for suture's event log.
func (s *RelayService) String() string {
	return "live-relay"
}
