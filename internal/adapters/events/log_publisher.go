package events

import (
	"context"
	"log/slog"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

// LogPublisher writes events to the log instead of delivering them.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	p.logger.InfoContext(ctx, "outbox publish",
		slog.String("topic", topic),
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.String("client", event.Client),
		slog.String("report_id", event.ReportID),
		slog.Int("schema_version", event.SchemaVersion),
	)
	return nil
}
