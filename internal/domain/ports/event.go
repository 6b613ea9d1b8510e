package ports

import (
	"context"
	"time"
)

// EventKind enumerates the outbound domain events the engine emits.
type EventKind string

const (
	EventEntryCreated        EventKind = "schedule_entry.created"
	EventEntryStateChanged   EventKind = "schedule_entry.state_changed"
	EventEntryRenewed        EventKind = "schedule_entry.renewed"
	EventEntryStopped        EventKind = "schedule_entry.stopped" // permanent stop
	EventChargeAttemptFailed EventKind = "charge.attempt_failed"  // transient, retries remain
)

// Event is one fire-and-forget outbound message. Consumers (notifications,
// webhooks, audit) live outside this system.
type Event struct {
	Kind       EventKind
	EntryID    string
	UserID     string
	ChargeID   string
	State      string
	OccurredAt time.Time
	Detail     map[string]interface{}
}

// EventPublisher is a write-only port: the core emits events after its
// transitions commit and never reads them back. Publish failures must not
// fail the transition; implementations log and drop.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}
