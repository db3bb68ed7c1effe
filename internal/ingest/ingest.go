// Package ingest feeds perception events from the configured transports
// into the interpretation channel. The channel never blocks a transport:
// when it is full the event is dropped and logged.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"edgesentry/internal/config"
	"edgesentry/internal/model"
	"edgesentry/internal/normalize"
)

// emitLine is the shared path for line-oriented transports: parse, normalize,
// tag the source and hand off to the channel.
func emitLine(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.PerceptionEvent, logger *slog.Logger, line, source string) {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return
	}
	ev, err := normalize.Normalize(*fields, cfg.Get())
	if err != nil {
		if logger != nil {
			logger.Warn("line normalize error", "source", source, "err", err)
		}
		return
	}
	ev.Source = source
	SendNonBlocking(ctx, out, ev, logger)
}

func SendNonBlocking(ctx context.Context, out chan<- model.PerceptionEvent, ev model.PerceptionEvent, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "location", ev.Location, "entity_type", ev.EntityType)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
