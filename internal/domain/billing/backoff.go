// Package billing holds the pure scheduling policies of the renewal
// engine: when a failed charge is attempted again.
package billing

import (
	"time"

	"recurring-billing/internal/domain"
)

// BackoffPolicy maps a failed attempt to the delay before its successor.
//
// Declines consume the configured step ladder from its tail: with steps
// [15m, 6h, 6h, 6h, 6h], an entry holding its last retry waits the final
// 6h step, and only an entry with as many retries left as there are steps
// ever sees the leading 15m. Retry counts beyond the ladder clamp to the
// last step. This tail indexing matches the observed scheduling behavior
// of operator-configured ladders and must not be replaced by a forward
// index.
//
// Communication failures use a single fixed delay and never consume a
// retry.
type BackoffPolicy struct {
	declineSteps   []time.Duration
	transportDelay time.Duration
}

// NewBackoffPolicy validates and constructs the policy. The ladder must be
// non-empty and all durations positive.
func NewBackoffPolicy(declineSteps []time.Duration, transportDelay time.Duration) (*BackoffPolicy, error) {
	if len(declineSteps) == 0 || transportDelay <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	for _, d := range declineSteps {
		if d <= 0 {
			return nil, domain.ErrInvalidArgument
		}
	}
	steps := make([]time.Duration, len(declineSteps))
	copy(steps, declineSteps)
	return &BackoffPolicy{declineSteps: steps, transportDelay: transportDelay}, nil
}

// DeclineDelay returns the wait before the successor of a declined
// attempt, keyed by the retries remaining before the decline.
func (p *BackoffPolicy) DeclineDelay(retries int) time.Duration {
	n := len(p.declineSteps)
	if retries <= 0 || retries > n {
		return p.declineSteps[n-1]
	}
	return p.declineSteps[n-retries]
}

// TransportDelay returns the fixed wait after a communication failure.
func (p *BackoffPolicy) TransportDelay() time.Duration {
	return p.transportDelay
}
