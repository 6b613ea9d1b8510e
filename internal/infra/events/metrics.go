package events

import (
	"context"

	"recurring-billing/internal/domain/ports"
	"recurring-billing/internal/infra/metrics"
)

var _ ports.EventPublisher = (*instrumentedPublisher)(nil)

// Instrument wraps a publisher with state-transition counters before
// forwarding each event to the configured sink.
func Instrument(next ports.EventPublisher) ports.EventPublisher {
	return &instrumentedPublisher{next: next}
}

type instrumentedPublisher struct {
	next ports.EventPublisher
}

func (p *instrumentedPublisher) Publish(ctx context.Context, ev ports.Event) {
	switch ev.Kind {
	case ports.EventEntryStateChanged, ports.EventEntryRenewed,
		ports.EventEntryStopped, ports.EventChargeAttemptFailed:
		metrics.IncEntryTransition(ev.State)
	}
	p.next.Publish(ctx, ev)
}
