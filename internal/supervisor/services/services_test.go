// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type blockingRunner struct {
	started atomic.Bool
}

func (r *blockingRunner) RunWithContext(ctx context.Context) error {
	r.started.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerServiceDelegates(t *testing.T) {
	runner := &blockingRunner{}
	svc := NewRunnerService("test-runner", runner)

	if got := svc.String(); got != "test-runner" {
		t.Errorf("String() = %q, want test-runner", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !runner.started.Load() {
		if time.Now().After(deadline) {
			t.Fatal("runner never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
}

type fakeHTTPServer struct {
	listenErr error
	stop      chan struct{}
	shutdowns atomic.Int32
}

func newFakeHTTPServer(listenErr error) *fakeHTTPServer {
	return &fakeHTTPServer{listenErr: listenErr, stop: make(chan struct{})}
}

func (s *fakeHTTPServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.stop
	return http.ErrServerClosed
}

func (s *fakeHTTPServer) Shutdown(_ context.Context) error {
	s.shutdowns.Add(1)
	close(s.stop)
	return nil
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := newFakeHTTPServer(nil)
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}

	if got := server.shutdowns.Load(); got != 1 {
		t.Errorf("shutdown calls = %d, want 1", got)
	}
}

func TestHTTPServerServiceListenFailure(t *testing.T) {
	listenErr := errors.New("address in use")
	svc := NewHTTPServerService(newFakeHTTPServer(listenErr), time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, listenErr) {
		t.Errorf("Serve() = %v, want wrapped listen error", err)
	}
}

type fakeRelay struct {
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (r *fakeRelay) Start(_ context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.started.Store(true)
	return nil
}

func (r *fakeRelay) Stop() { r.stopped.Store(true) }

func TestRelayServiceLifecycle(t *testing.T) {
	relay := &fakeRelay{}
	svc := NewRelayService(relay)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	if !relay.started.Load() {
		t.Fatal("relay not started")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
	if !relay.stopped.Load() {
		t.Error("relay not stopped on shutdown")
	}
}

func TestRelayServiceStartFailure(t *testing.T) {
	startErr := errors.New("subscribe failed")
	svc := NewRelayService(&fakeRelay{startErr: startErr})

	if err := svc.Serve(context.Background()); !errors.Is(err, startErr) {
		t.Errorf("Serve() = %v, want wrapped start error", err)
	}
}
