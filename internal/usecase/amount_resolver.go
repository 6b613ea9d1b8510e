package usecase

import (
	"context"
	"fmt"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ AmountResolver = (*amountResolver)(nil)

// AmountResolver decides the monetary amount for a schedule entry's next
// charge. Besides the amount it returns the recurring line items carried
// over from the originating charge, so the drafted charge can persist
// them into the following cycle.
type AmountResolver interface {
	Resolve(ctx context.Context, tx repository.Tx, entry *model.ScheduleEntry, tier *model.ProductTier) (int64, []model.ChargeItem, error)
}

type amountResolver struct {
	charges repository.ChargeRepository
}

func NewAmountResolver(charges repository.ChargeRepository) *amountResolver {
	return &amountResolver{charges: charges}
}

// Resolve is pure with respect to its inputs: a manual amount override
// wins outright; otherwise the tier's standard price applies, and when
// that price differs from the originating charge's amount, the recurring
// add-ons of the originating charge are re-added. One-off add-ons are
// dropped.
func (r *amountResolver) Resolve(ctx context.Context, tx repository.Tx, entry *model.ScheduleEntry, tier *model.ProductTier) (int64, []model.ChargeItem, error) {
	if entry == nil || tier.IsZero() {
		return 0, nil, domain.ErrInvalidArgument
	}
	if entry.AmountOverride != nil {
		return *entry.AmountOverride, nil, nil
	}

	price := tier.PriceMinor
	orig, err := r.charges.FindByID(ctx, tx, entry.OriginatingChargeID)
	if err != nil {
		return 0, nil, fmt.Errorf("resolve originating charge %s: %w", entry.OriginatingChargeID, err)
	}
	if orig.Amount == price {
		return price, nil, nil
	}

	carried := orig.RecurringItems()
	for _, it := range carried {
		price += it.Amount
	}
	return price, carried, nil
}
