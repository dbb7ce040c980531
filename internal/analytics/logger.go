// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package analytics

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/rhinontech/engage/internal/logging"
)

// wmLogger adapts the application's zerolog logger to the Watermill
// LoggerAdapter interface so bus internals log like everything else.
type wmLogger struct {
	fields watermill.LogFields
}

// NewWatermillLogger returns a LoggerAdapter writing to the global logger.
func NewWatermillLogger() watermill.LoggerAdapter {
	return &wmLogger{}
}

func (l *wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.emit(logging.Error().Err(err), msg, fields)
}

func (l *wmLogger) Info(msg string, fields watermill.LogFields) {
	l.emit(logging.Debug(), msg, fields)
}

func (l *wmLogger) Debug(msg string, fields watermill.LogFields) {
	l.emit(logging.Debug(), msg, fields)
}

func (l *wmLogger) Trace(msg string, fields watermill.LogFields) {
	l.emit(logging.Trace(), msg, fields)
}

func (l *wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &wmLogger{fields: l.fields.Add(fields)}
}

func (l *wmLogger) emit(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Str("component", "analytics-bus").Msg(msg)
}
