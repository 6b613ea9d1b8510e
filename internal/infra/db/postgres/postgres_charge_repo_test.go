//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
)

func TestChargeRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewChargeRepo(testPool)
	tierRepoI := NewTierRepo(testPool)
	schedRepo := NewScheduleRepo(testPool)

	tier, _ := model.NewProductTier("basic", "Basic", 1000, "EUR", 30)

	setup := func(t *testing.T) {
		cleanup(t)
		if err := tierRepoI.Save(ctx, nil, tier); err != nil {
			t.Fatalf("save tier: %v", err)
		}
	}

	t.Run("should save and find a charge with line items", func(t *testing.T) {
		setup(t)

		c, err := model.NewChargeRecord(uuid.NewString(), "u1", tier.ID, "sandbox", 1200, "EUR")
		if err != nil {
			t.Fatalf("model: %v", err)
		}
		c.Items = []model.ChargeItem{
			{Label: "extra seat", Amount: 200, Recurring: true},
			{Label: "setup fee", Amount: 500, Recurring: false},
		}
		if err := repo.Save(ctx, nil, c); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := repo.FindByID(ctx, nil, c.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.Amount != 1200 || got.Status != model.ChargeStatusDrafted {
			t.Errorf("round-trip mismatch: %+v", got)
		}
		if len(got.Items) != 2 || len(got.RecurringItems()) != 1 {
			t.Errorf("line items lost: %+v", got.Items)
		}
	})

	t.Run("status update is monotone in storage", func(t *testing.T) {
		setup(t)
		c, _ := model.NewChargeRecord(uuid.NewString(), "u1", tier.ID, "sandbox", 1000, "EUR")
		if err := repo.Save(ctx, nil, c); err != nil {
			t.Fatalf("Save: %v", err)
		}

		now := time.Now()
		if err := repo.UpdateStatus(ctx, nil, c.ID, model.ChargeStatusPaid, &now); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		got, _ := repo.FindByID(ctx, nil, c.ID)
		if got.Status != model.ChargeStatusPaid || got.PaidAt == nil {
			t.Errorf("expected paid with timestamp, got %+v", got)
		}

		// COALESCE keeps the original paid_at on later updates.
		if err := repo.UpdateStatus(ctx, nil, c.ID, model.ChargeStatusRefunded, nil); err != nil {
			t.Fatalf("UpdateStatus refund: %v", err)
		}
		got2, _ := repo.FindByID(ctx, nil, c.ID)
		if got2.PaidAt == nil || !got2.PaidAt.Equal(*got.PaidAt) {
			t.Errorf("paid_at must survive the refund update")
		}
	})

	t.Run("terminal status is never overwritten", func(t *testing.T) {
		setup(t)
		c, _ := model.NewChargeRecord(uuid.NewString(), "u1", tier.ID, "sandbox", 1000, "EUR")
		if err := repo.Save(ctx, nil, c); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := repo.UpdateStatus(ctx, nil, c.ID, model.ChargeStatusDeclined, nil); err != nil {
			t.Fatalf("decline: %v", err)
		}

		now := time.Now()
		if err := repo.UpdateStatus(ctx, nil, c.ID, model.ChargeStatusPaid, &now); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument reopening a declined charge, got %v", err)
		}
		got, _ := repo.FindByID(ctx, nil, c.ID)
		if got.Status != model.ChargeStatusDeclined {
			t.Errorf("declined record was reopened to %s", got.Status)
		}

		if err := repo.UpdateStatus(ctx, nil, uuid.NewString(), model.ChargeStatusPaid, &now); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for a missing charge, got %v", err)
		}
	})

	t.Run("last charge time for token follows the entry link", func(t *testing.T) {
		setup(t)

		if _, err := repo.LastChargeTimeForToken(ctx, nil, "cid-9"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound before any attempt, got %v", err)
		}

		orig, _ := model.NewChargeRecord(uuid.NewString(), "u1", tier.ID, "sandbox", 1000, "EUR")
		orig.Status = model.ChargeStatusPaid
		if err := repo.Save(ctx, nil, orig); err != nil {
			t.Fatalf("save orig: %v", err)
		}
		e, _ := model.NewScheduleEntry(ulid.Make().String(), "u1", "cid-9", "sandbox", tier.ID, orig.ID, time.Now(), 4)
		if err := schedRepo.Save(ctx, nil, e); err != nil {
			t.Fatalf("save entry: %v", err)
		}

		attempt, _ := model.NewChargeRecord(uuid.NewString(), "u1", tier.ID, "sandbox", 1000, "EUR")
		attempt.Status = model.ChargeStatusDeclined
		if err := repo.Save(ctx, nil, attempt); err != nil {
			t.Fatalf("save attempt: %v", err)
		}
		if err := schedRepo.SetProducedCharge(ctx, nil, e.ID, attempt.ID); err != nil {
			t.Fatalf("link attempt: %v", err)
		}

		got, err := repo.LastChargeTimeForToken(ctx, nil, "cid-9")
		if err != nil {
			t.Fatalf("LastChargeTimeForToken: %v", err)
		}
		if got.IsZero() {
			t.Error("expected a non-zero attempt time")
		}
	})

	t.Run("sum settled by period ignores declined charges", func(t *testing.T) {
		setup(t)
		paid, _ := model.NewChargeRecord(uuid.NewString(), "u1", tier.ID, "sandbox", 1000, "EUR")
		if err := repo.Save(ctx, nil, paid); err != nil {
			t.Fatalf("save: %v", err)
		}
		now := time.Now()
		if err := repo.UpdateStatus(ctx, nil, paid.ID, model.ChargeStatusPaid, &now); err != nil {
			t.Fatalf("pay: %v", err)
		}
		declined, _ := model.NewChargeRecord(uuid.NewString(), "u1", tier.ID, "sandbox", 500, "EUR")
		if err := repo.Save(ctx, nil, declined); err != nil {
			t.Fatalf("save declined: %v", err)
		}
		if err := repo.UpdateStatus(ctx, nil, declined.ID, model.ChargeStatusDeclined, nil); err != nil {
			t.Fatalf("decline: %v", err)
		}

		sum, err := repo.SumSettledByPeriod(ctx, nil, "month")
		if err != nil {
			t.Fatalf("SumSettledByPeriod: %v", err)
		}
		if sum != 1000 {
			t.Errorf("expected 1000, got %d", sum)
		}
	})
}
