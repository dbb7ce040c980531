// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"WARN", zerolog.WarnLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("tenant", "acme").Msg("channel admitted")

	out := buf.String()
	if !strings.Contains(out, `"tenant":"acme"`) {
		t.Errorf("expected structured field in output, got %s", out)
	}
	if !strings.Contains(out, "channel admitted") {
		t.Errorf("expected message in output, got %s", out)
	}
}

func TestCtxAddsRequestAndTenantFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithTenantID(ctx, "acme")

	Ctx(ctx).Info().Msg("event accepted")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-123"`) {
		t.Errorf("missing request_id in output: %s", out)
	}
	if !strings.Contains(out, `"tenant_id":"acme"`) {
		t.Errorf("missing tenant_id in output: %s", out)
	}
}

func TestCtxWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Ctx(context.Background()).Info().Msg("plain")

	out := buf.String()
	if strings.Contains(out, "request_id") || strings.Contains(out, "tenant_id") {
		t.Errorf("unexpected context fields in output: %s", out)
	}
}

func TestSlogHandlerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)

	slogger := slog.New(NewSlogHandlerWithLogger(logger))
	slogger.Info("supervisor event", slog.String("service", "hub"))

	out := buf.String()
	if !strings.Contains(out, "supervisor event") {
		t.Errorf("expected message in output, got %s", out)
	}
	if !strings.Contains(out, `"service":"hub"`) {
		t.Errorf("expected attribute in output, got %s", out)
	}
}

func TestSlogHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf).Level(zerolog.WarnLevel)
	h := NewSlogHandlerWithLogger(logger)

	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}
