package repository

import (
	"context"
	"time"

	"recurring-billing/internal/domain/model"
)

// ChargeRepository is the port for charge records.
type ChargeRepository interface {
	Save(ctx context.Context, tx Tx, c *model.ChargeRecord) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.ChargeRecord, error)
	// UpdateStatus moves the record to `status`; paidAt is only written
	// when non-nil (COALESCE semantics).
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.ChargeStatus, paidAt *time.Time) error
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.ChargeRecord, error)
	// LastChargeTimeForToken returns the creation time of the most recent
	// non-drafted charge attempted against the stored token, for the
	// fast-charge guard. Returns domain.ErrNotFound when none exists.
	LastChargeTimeForToken(ctx context.Context, tx Tx, tokenCID string) (time.Time, error)
	// SumSettledByPeriod totals settled charges since the start of the
	// given period ("day"|"week"|"month"), for dashboards.
	SumSettledByPeriod(ctx context.Context, tx Tx, period string) (int64, error)
}
