// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package services adapts the server's long-running components to the
// suture.Service interface.
package services

import (
	"context"
)

// ContextRunner matches the RunWithContext method shared by the hub, the
// ingest pipeline, the campaign refresher, and the analytics consumer.
// The method blocks until the context is canceled and returns ctx.Err()
// on clean shutdown.
type ContextRunner interface {
	RunWithContext(ctx context.Context) error
}

// RunnerService wraps a ContextRunner as a supervised service. The name
// identifies the service in suture's event log.
type RunnerService struct {
	runner ContextRunner
	name   string
}

// NewRunnerService creates the wrapper.
func NewRunnerService(name string, runner ContextRunner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer for suture's event log.
func (s *RunnerService) String() string {
	return s.name
}
