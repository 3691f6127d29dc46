// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/fieldworks/fieldsync/internal/logging"
)

// loggerAdapter routes watermill's internal logging through zerolog.
type loggerAdapter struct {
	logger zerolog.Logger
	fields watermill.LogFields
}

func newLoggerAdapter() watermill.LoggerAdapter {
	return &loggerAdapter{logger: logging.With().Str("component", "events").Logger()}
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.emit(a.logger.Error().Err(err), fields).Msg(msg)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.emit(a.logger.Debug(), fields).Msg(msg) // watermill info is noise at our info level
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.emit(a.logger.Debug(), fields).Msg(msg)
}

func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.emit(a.logger.Trace(), fields).Msg(msg)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{logger: a.logger, fields: a.fields.Add(fields)}
}

func (a *loggerAdapter) emit(event *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for key, value := range a.fields {
		event = event.Interface(key, value)
	}
	for key, value := range fields {
		event = event.Interface(key, value)
	}
	return event
}
