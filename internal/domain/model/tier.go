package model

import (
	"time"

	"recurring-billing/internal/domain"
)

// ProductTier is a billable product level: base price, billing period,
// and the optional trial configuration that promotes a subscriber to
// NextTierID once TrialPeriods successful cycles have been consumed.
//
// OverrideTierID is a legacy alias pointer: when a tier is selected via a
// manual next-tier override and itself carries OverrideTierID, the alias
// target is billed instead. Only one level of indirection is honored.
type ProductTier struct {
	ID             string
	Name           string
	PriceMinor     int64 // minor units
	Currency       string
	PeriodDays     int // billing cycle length
	NextTierID     *string
	TrialPeriods   int
	OverrideTierID *string
	CreatedAt      time.Time
}

func (t *ProductTier) IsZero() bool { return t == nil || t.ID == "" }

// HasTrial reports whether this tier is configured to hand over to a
// follow-up tier after its trial periods.
func (t *ProductTier) HasTrial() bool {
	return t.NextTierID != nil && *t.NextTierID != "" && t.TrialPeriods > 0
}

// Period returns the billing cycle as a duration.
func (t *ProductTier) Period() time.Duration {
	return time.Duration(t.PeriodDays) * 24 * time.Hour
}

// NewProductTier validates and constructs a tier.
func NewProductTier(id, name string, priceMinor int64, currency string, periodDays int) (*ProductTier, error) {
	if id == "" || name == "" || priceMinor < 0 || currency == "" || periodDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &ProductTier{
		ID:         id,
		Name:       name,
		PriceMinor: priceMinor,
		Currency:   currency,
		PeriodDays: periodDays,
		CreatedAt:  time.Now(),
	}, nil
}
