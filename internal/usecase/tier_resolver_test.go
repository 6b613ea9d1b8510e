//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/usecase"
)

func strPtr(s string) *string { return &s }

// chainFixture wires mock repos with a basic->premium trial setup.
type chainFixture struct {
	tiers     *mockTierRepo
	charges   *mockChargeRepo
	schedules *mockScheduleRepo
}

func newChainFixture(t *testing.T, trialPeriods int) *chainFixture {
	t.Helper()
	f := &chainFixture{
		tiers:     newMockTierRepo(),
		charges:   newMockChargeRepo(),
		schedules: newMockScheduleRepo(),
	}
	ctx := context.Background()
	basic := &model.ProductTier{ID: "basic", Name: "Basic", PriceMinor: 1000, Currency: "EUR", PeriodDays: 30, NextTierID: strPtr("premium"), TrialPeriods: trialPeriods}
	premium := &model.ProductTier{ID: "premium", Name: "Premium", PriceMinor: 2500, Currency: "EUR", PeriodDays: 30}
	if err := f.tiers.Save(ctx, nil, basic); err != nil {
		t.Fatalf("save tier: %v", err)
	}
	if err := f.tiers.Save(ctx, nil, premium); err != nil {
		t.Fatalf("save tier: %v", err)
	}
	return f
}

func (f *chainFixture) addCharge(id string, status model.ChargeStatus) {
	f.charges.put(&model.ChargeRecord{ID: id, UserID: "u1", TierID: "basic", Gateway: "sandbox", Amount: 1000, Currency: "EUR", Status: status})
}

func (f *chainFixture) addEntry(id, origChargeID string, producedChargeID *string, state model.ScheduleState) *model.ScheduleEntry {
	e := &model.ScheduleEntry{
		ID: id, UserID: "u1", TokenCID: "cid-1", Gateway: "sandbox", TierID: "basic",
		ChargeAt: time.Now().Add(time.Hour), Retries: 4, State: state,
		OriginatingChargeID: origChargeID, ProducedChargeID: producedChargeID,
	}
	f.schedules.put(e)
	return e
}

func TestTierResolver_TrialCounting(t *testing.T) {
	ctx := context.Background()

	t.Run("second cycle stays on the trial tier", func(t *testing.T) {
		f := newChainFixture(t, 2)
		// C1 is the checkout charge: paid, produced by no entry.
		f.addCharge("c1", model.ChargeStatusPaid)
		e2 := f.addEntry("e2", "c1", nil, model.ScheduleStateActive)

		r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
		tier, err := r.Resolve(ctx, nil, e2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tier.ID != "basic" {
			t.Errorf("expected basic for the second cycle, got %s", tier.ID)
		}
	})

	t.Run("third cycle after two successes promotes", func(t *testing.T) {
		f := newChainFixture(t, 2)
		f.addCharge("c1", model.ChargeStatusPaid)
		f.addCharge("c2", model.ChargeStatusPaid)
		f.addEntry("e2", "c1", strPtr("c2"), model.ScheduleStateCharged)
		e3 := f.addEntry("e3", "c2", nil, model.ScheduleStateActive)

		r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
		tier, err := r.Resolve(ctx, nil, e3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tier.ID != "premium" {
			t.Errorf("expected promotion to premium, got %s", tier.ID)
		}
	})

	t.Run("declined cycles are traversed but not counted", func(t *testing.T) {
		f := newChainFixture(t, 2)
		f.addCharge("c1", model.ChargeStatusPaid)
		f.addCharge("c2", model.ChargeStatusDeclined) // failed attempt
		f.addCharge("c3", model.ChargeStatusPaid)     // retry succeeded
		f.addEntry("e2", "c1", strPtr("c2"), model.ScheduleStateChargeFailed)
		f.addEntry("e2r", "c2", strPtr("c3"), model.ScheduleStateCharged)
		e4 := f.addEntry("e4", "c3", nil, model.ScheduleStateActive)

		r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
		tier, err := r.Resolve(ctx, nil, e4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// e4 itself (1) + settled c3 (2); declined c2 skipped; walk stops at c1.
		if tier.ID != "premium" {
			t.Errorf("expected premium, got %s", tier.ID)
		}
	})

	t.Run("prepaid counts like paid", func(t *testing.T) {
		f := newChainFixture(t, 2)
		f.addCharge("c1", model.ChargeStatusPaid)
		f.addCharge("c2", model.ChargeStatusPrepaid)
		f.addEntry("e2", "c1", strPtr("c2"), model.ScheduleStateCharged)
		e3 := f.addEntry("e3", "c2", nil, model.ScheduleStateActive)

		r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
		tier, err := r.Resolve(ctx, nil, e3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tier.ID != "premium" {
			t.Errorf("expected premium, got %s", tier.ID)
		}
	})
}

func TestTierResolver_NoTrialConfigured(t *testing.T) {
	ctx := context.Background()

	t.Run("zero trial periods keeps the current tier", func(t *testing.T) {
		f := newChainFixture(t, 0)
		f.addCharge("c1", model.ChargeStatusPaid)
		e := f.addEntry("e1", "c1", nil, model.ScheduleStateActive)

		r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
		tier, err := r.Resolve(ctx, nil, e)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tier.ID != "basic" {
			t.Errorf("expected basic, got %s", tier.ID)
		}
	})

	t.Run("missing next tier keeps the current tier", func(t *testing.T) {
		f := newChainFixture(t, 2)
		plain := &model.ProductTier{ID: "plain", Name: "Plain", PriceMinor: 500, Currency: "EUR", PeriodDays: 30}
		_ = f.tiers.Save(ctx, nil, plain)
		f.addCharge("c1", model.ChargeStatusPaid)
		e := f.addEntry("e1", "c1", nil, model.ScheduleStateActive)
		e.TierID = "plain"

		r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
		tier, err := r.Resolve(ctx, nil, e)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tier.ID != "plain" {
			t.Errorf("expected plain, got %s", tier.ID)
		}
	})
}

func TestTierResolver_ManualOverride(t *testing.T) {
	ctx := context.Background()

	t.Run("entry override wins over trial logic", func(t *testing.T) {
		f := newChainFixture(t, 2)
		plus := &model.ProductTier{ID: "plus", Name: "Plus", PriceMinor: 1500, Currency: "EUR", PeriodDays: 30}
		_ = f.tiers.Save(ctx, nil, plus)
		f.addCharge("c1", model.ChargeStatusPaid)
		e := f.addEntry("e1", "c1", nil, model.ScheduleStateActive)
		e.NextTierOverrideID = strPtr("plus")

		r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
		tier, err := r.Resolve(ctx, nil, e)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tier.ID != "plus" {
			t.Errorf("expected plus, got %s", tier.ID)
		}
	})

	t.Run("override tier carrying its own alias is followed one level", func(t *testing.T) {
		f := newChainFixture(t, 2)
		gold := &model.ProductTier{ID: "gold", Name: "Gold", PriceMinor: 3000, Currency: "EUR", PeriodDays: 30}
		plus := &model.ProductTier{ID: "plus", Name: "Plus", PriceMinor: 1500, Currency: "EUR", PeriodDays: 30, OverrideTierID: strPtr("gold")}
		_ = f.tiers.Save(ctx, nil, gold)
		_ = f.tiers.Save(ctx, nil, plus)
		f.addCharge("c1", model.ChargeStatusPaid)
		e := f.addEntry("e1", "c1", nil, model.ScheduleStateActive)
		e.NextTierOverrideID = strPtr("plus")

		r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
		tier, err := r.Resolve(ctx, nil, e)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tier.ID != "gold" {
			t.Errorf("expected alias target gold, got %s", tier.ID)
		}
	})

	t.Run("override pointing nowhere is a hard configuration error", func(t *testing.T) {
		f := newChainFixture(t, 2)
		f.addCharge("c1", model.ChargeStatusPaid)
		e := f.addEntry("e1", "c1", nil, model.ScheduleStateActive)
		e.NextTierOverrideID = strPtr("ghost")

		r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
		if _, err := r.Resolve(ctx, nil, e); !errors.Is(err, domain.ErrTierChainDeadEnd) {
			t.Fatalf("expected ErrTierChainDeadEnd, got %v", err)
		}
	})
}

func TestTierResolver_DeadEndNextTier(t *testing.T) {
	ctx := context.Background()
	f := newChainFixture(t, 1)
	broken := &model.ProductTier{ID: "broken", Name: "Broken", PriceMinor: 100, Currency: "EUR", PeriodDays: 30, NextTierID: strPtr("missing"), TrialPeriods: 1}
	_ = f.tiers.Save(ctx, nil, broken)
	f.addCharge("c1", model.ChargeStatusPaid)
	e := f.addEntry("e1", "c1", nil, model.ScheduleStateActive)
	e.TierID = "broken"

	r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
	if _, err := r.Resolve(ctx, nil, e); !errors.Is(err, domain.ErrTierChainDeadEnd) {
		t.Fatalf("expected ErrTierChainDeadEnd, got %v", err)
	}
}

func TestTierResolver_ChainHopBound(t *testing.T) {
	ctx := context.Background()
	f := newChainFixture(t, 3)
	// A corrupted self-referencing chain: the entry's originating charge
	// is recorded as produced by the entry itself.
	f.addCharge("c1", model.ChargeStatusPaid)
	f.addEntry("e1", "c1", strPtr("c1"), model.ScheduleStateActive)
	e, _ := f.schedules.FindByID(ctx, nil, "e1")

	r := usecase.NewTierResolver(f.tiers, f.charges, f.schedules)
	if _, err := r.Resolve(ctx, nil, e); !errors.Is(err, domain.ErrChainTooDeep) {
		t.Fatalf("expected ErrChainTooDeep, got %v", err)
	}
}
