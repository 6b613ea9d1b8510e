package usecase

import (
	"context"
	"errors"
	"fmt"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports/repository"
)

// maxChainHops bounds backward chain traversal. The chain invariant
// forbids cycles; the bound turns a corrupted chain into a hard error
// instead of a hung walk.
const maxChainHops = 64

// Compile-time check
var _ TierResolver = (*tierResolver)(nil)

// TierResolver decides which product tier the next charge of a schedule
// entry bills for.
type TierResolver interface {
	Resolve(ctx context.Context, tx repository.Tx, entry *model.ScheduleEntry) (*model.ProductTier, error)
}

type tierResolver struct {
	tiers     repository.TierRepository
	charges   repository.ChargeRepository
	schedules repository.ScheduleRepository
}

func NewTierResolver(tiers repository.TierRepository, charges repository.ChargeRepository, schedules repository.ScheduleRepository) *tierResolver {
	return &tierResolver{tiers: tiers, charges: charges, schedules: schedules}
}

// Resolve applies the first matching rule:
//  1. A manual next-tier override on the entry wins. If the override tier
//     itself carries an override alias, the alias target is billed instead
//     (one level only, a preserved compatibility quirk).
//  2. A tier without trial configuration bills itself.
//  3. Otherwise the consumed trial periods are counted along the chain;
//     reaching the configured count hands over to the tier's next tier.
func (r *tierResolver) Resolve(ctx context.Context, tx repository.Tx, entry *model.ScheduleEntry) (*model.ProductTier, error) {
	if entry == nil {
		return nil, domain.ErrInvalidArgument
	}

	if entry.NextTierOverrideID != nil && *entry.NextTierOverrideID != "" {
		t, err := r.findTier(ctx, tx, *entry.NextTierOverrideID)
		if err != nil {
			return nil, err
		}
		if t.OverrideTierID != nil && *t.OverrideTierID != "" {
			return r.findTier(ctx, tx, *t.OverrideTierID)
		}
		return t, nil
	}

	current, err := r.findTier(ctx, tx, entry.TierID)
	if err != nil {
		return nil, err
	}
	if !current.HasTrial() {
		return current, nil
	}

	consumed, err := r.consumedTrialPeriods(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if consumed >= current.TrialPeriods {
		return r.findTier(ctx, tx, *current.NextTierID)
	}
	return current, nil
}

// consumedTrialPeriods walks the chain backwards, counting only cycles
// whose charge settled. The entry being resolved counts as 1; attempts
// that declined are traversed but not counted; the walk stops at the
// checkout charge (the first charge no schedule entry produced).
func (r *tierResolver) consumedTrialPeriods(ctx context.Context, tx repository.Tx, entry *model.ScheduleEntry) (int, error) {
	count := 1
	cur := entry
	for hop := 0; hop < maxChainHops; hop++ {
		charge, err := r.charges.FindByID(ctx, tx, cur.OriginatingChargeID)
		if err != nil {
			return 0, fmt.Errorf("resolve originating charge %s: %w", cur.OriginatingChargeID, err)
		}
		prev, err := r.schedules.FindByProducedCharge(ctx, tx, charge.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		if charge.Status.Settled() {
			count++
		}
		cur = prev
	}
	return 0, domain.ErrChainTooDeep
}

func (r *tierResolver) findTier(ctx context.Context, tx repository.Tx, id string) (*model.ProductTier, error) {
	t, err := r.tiers.FindByID(ctx, tx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("tier %s: %w", id, domain.ErrTierChainDeadEnd)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}
