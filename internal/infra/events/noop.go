package events

import (
	"context"

	"recurring-billing/internal/domain/ports"
)

var _ ports.EventPublisher = (*NoopPublisher)(nil)

// NoopPublisher drops every event. Used when no sink is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, ports.Event) {}
