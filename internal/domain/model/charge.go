package model

import (
	"time"

	"recurring-billing/internal/domain"
)

type ChargeStatus string

const (
	ChargeStatusDrafted    ChargeStatus = "drafted"    // created, not yet submitted to a gateway
	ChargeStatusPaid       ChargeStatus = "paid"       // gateway confirmed the charge
	ChargeStatusPrepaid    ChargeStatus = "prepaid"    // settled out of band (e.g. bank transfer matched)
	ChargeStatusDeclined   ChargeStatus = "declined"   // gateway refused, or the attempt errored out
	ChargeStatusTimedOut   ChargeStatus = "timedout"   // abandoned before any gateway result
	ChargeStatusRefunded   ChargeStatus = "refunded"   // paid and later refunded
	ChargeStatusAuthorized ChargeStatus = "authorized" // authorized only, capture pending
)

// Terminal reports whether no further automatic status change may occur.
func (s ChargeStatus) Terminal() bool {
	switch s {
	case ChargeStatusPaid, ChargeStatusPrepaid, ChargeStatusDeclined, ChargeStatusTimedOut, ChargeStatusRefunded:
		return true
	}
	return false
}

// Settled reports whether the charge ended in collected money.
func (s ChargeStatus) Settled() bool {
	return s == ChargeStatusPaid || s == ChargeStatusPrepaid
}

// ChargeItem is a line item attached to a charge beyond the tier's base
// price. Recurring items are carried forward to the next cycle's amount;
// one-off items are not.
type ChargeItem struct {
	Label     string
	Amount    int64 // minor units
	Recurring bool
}

// ChargeRecord is one monetary transaction attempt. Amounts are integer
// minor units to avoid float errors. Records are never deleted; status
// moves monotonically toward a terminal value.
type ChargeRecord struct {
	ID             string // UUID
	UserID         string
	TierID         string
	Gateway        string // gateway identifier the attempt ran (or will run) against
	Amount         int64  // minor units, includes line items
	Currency       string
	Status         ChargeStatus
	Items          []ChargeItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
	SubscriptionID *string // set once the charge fulfilled a subscription
}

// NewChargeRecord validates and constructs a drafted charge.
func NewChargeRecord(id, userID, tierID, gateway string, amount int64, currency string) (*ChargeRecord, error) {
	if id == "" || userID == "" || tierID == "" || gateway == "" || amount < 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &ChargeRecord{
		ID:        id,
		UserID:    userID,
		TierID:    tierID,
		Gateway:   gateway,
		Amount:    amount,
		Currency:  currency,
		Status:    ChargeStatusDrafted,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// RecurringItems returns the line items that persist across cycles.
func (c *ChargeRecord) RecurringItems() []ChargeItem {
	var out []ChargeItem
	for _, it := range c.Items {
		if it.Recurring {
			out = append(out, it)
		}
	}
	return out
}

// CanTransitionTo enforces the monotone status lifecycle: a record is
// never reopened once it reached a terminal status, except paid->refunded
// and authorized->paid/declined.
func (c *ChargeRecord) CanTransitionTo(next ChargeStatus) bool {
	if c.Status == next {
		return false
	}
	switch c.Status {
	case ChargeStatusDrafted, ChargeStatusAuthorized:
		return true
	case ChargeStatusPaid, ChargeStatusPrepaid:
		return next == ChargeStatusRefunded
	default:
		return false
	}
}
