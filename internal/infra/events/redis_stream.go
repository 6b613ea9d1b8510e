package events

import (
	"context"
	"encoding/json"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"recurring-billing/internal/domain/ports"
	"recurring-billing/internal/infra/redis"
)

var _ ports.EventPublisher = (*StreamPublisher)(nil)

// StreamPublisher appends events to a Redis stream. Consumers read the
// stream with their own consumer groups; this side never reads back.
type StreamPublisher struct {
	cli    *goredis.Client
	stream string
	log    *zerolog.Logger
}

func NewStreamPublisher(c *redis.Client, stream string, logger *zerolog.Logger) *StreamPublisher {
	l := logger.With().Str("component", "StreamPublisher").Logger()
	return &StreamPublisher{cli: c.Underlying(), stream: stream, log: &l}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev ports.Event) {
	values := map[string]interface{}{
		"kind":        string(ev.Kind),
		"entry_id":    ev.EntryID,
		"user_id":     ev.UserID,
		"state":       ev.State,
		"occurred_at": ev.OccurredAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if ev.ChargeID != "" {
		values["charge_id"] = ev.ChargeID
	}
	if len(ev.Detail) > 0 {
		detail, err := json.Marshal(ev.Detail)
		if err != nil {
			p.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("event detail not serializable; dropped detail")
		} else {
			values["detail"] = string(detail)
		}
	}

	err := p.cli.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Err()
	if err != nil {
		// Events are best-effort; the transition already committed.
		p.log.Error().Err(err).Str("kind", string(ev.Kind)).Str("entry_id", ev.EntryID).Msg("failed to publish event")
	}
}
