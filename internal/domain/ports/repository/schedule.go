package repository

import (
	"context"
	"time"

	"recurring-billing/internal/domain/model"
)

// DuplicateActive flags a user holding more than one forward-scheduled
// active entry. A data-quality signal for diagnostics, not a runtime
// constraint.
type DuplicateActive struct {
	UserID   string
	Count    int
	EntryIDs []string
}

// ScheduleRepository is the port for schedule entries.
type ScheduleRepository interface {
	Save(ctx context.Context, tx Tx, e *model.ScheduleEntry) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.ScheduleEntry, error)

	// ListChargeableNow returns active entries with no gateway result yet,
	// retries >= 0, due within `lookahead` of `now`, in randomized order.
	// The result is a best-effort snapshot, not a locked queue.
	ListChargeableNow(ctx context.Context, tx Tx, now time.Time, lookahead time.Duration, limit int) ([]*model.ScheduleEntry, error)

	// Chain lookups. Both return at most one row, or domain.ErrNotFound.
	FindByOriginatingCharge(ctx context.Context, tx Tx, chargeID string) (*model.ScheduleEntry, error)
	FindByProducedCharge(ctx context.Context, tx Tx, chargeID string) (*model.ScheduleEntry, error)

	// Claim flips an entry from active to pending only while its gateway
	// result is still unset. A false return means another worker got there
	// first; callers must skip the entry.
	Claim(ctx context.Context, tx Tx, id string) (bool, error)

	// UpdateState writes the state plus the last gateway result fields.
	UpdateState(ctx context.Context, tx Tx, id string, state model.ScheduleState, resultCode *string, resultMessage string) error
	SetProducedCharge(ctx context.Context, tx Tx, id, chargeID string) error

	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.ScheduleEntry, error)

	// Diagnostics.
	ListDuplicateActive(ctx context.Context, tx Tx) ([]DuplicateActive, error)
	ListOverdueUnresolved(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.ScheduleEntry, error)
}
