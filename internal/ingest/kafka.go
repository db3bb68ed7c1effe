package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"edgesentry/internal/config"
	"edgesentry/internal/model"
)

// StartKafka consumes structured event payloads from a topic. Each message
// is a JSON event object or an array of them.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.PerceptionEvent, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			events, failed, err := DecodeEvents(m.Value, cfg.Get(), "kafka")
			if err != nil {
				if logger != nil {
					logger.Warn("kafka payload rejected", "partition", m.Partition, "offset", m.Offset, "err", err)
				}
				continue
			}
			if failed > 0 && logger != nil {
				logger.Warn("kafka events failed normalization", "failed", failed, "offset", m.Offset)
			}
			for _, ev := range events {
				SendNonBlocking(ctx, out, ev, logger)
			}
		}
	}()
}
