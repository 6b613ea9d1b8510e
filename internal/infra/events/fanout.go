package events

import (
	"context"

	"recurring-billing/internal/domain/ports"
)

var _ ports.EventPublisher = (*fanoutPublisher)(nil)

// NewFanout delivers every event to each configured sink. Sinks are
// independent; one failing or slow sink never blocks the others beyond
// its own Publish call.
func NewFanout(sinks ...ports.EventPublisher) ports.EventPublisher {
	return &fanoutPublisher{sinks: sinks}
}

type fanoutPublisher struct {
	sinks []ports.EventPublisher
}

func (p *fanoutPublisher) Publish(ctx context.Context, ev ports.Event) {
	for _, s := range p.sinks {
		s.Publish(ctx, ev)
	}
}
