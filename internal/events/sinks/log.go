// Package sinks holds the built-in event sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/justice-rest/Intel-sub005/internal/events"
)

// LogSink emits structured logs for scrape event streams, mainly for
// development and audits.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("scrape event",
			zap.String("search_id", evt.SearchUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("source", evt.Source),
			zap.String("tier", evt.Tier),
			zap.Int("entities", evt.Entities),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
