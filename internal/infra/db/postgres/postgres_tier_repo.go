package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports/repository"
)

var _ repository.TierRepository = (*tierRepo)(nil)

type tierRepo struct{ pool *pgxpool.Pool }

func NewTierRepo(pool *pgxpool.Pool) *tierRepo {
	return &tierRepo{pool: pool}
}

const tierColumns = `id, name, price_minor, currency, period_days, next_tier_id, trial_periods, override_tier_id, created_at`

func (r *tierRepo) Save(ctx context.Context, tx repository.Tx, t *model.ProductTier) error {
	const q = `
INSERT INTO product_tiers (
  id, name, price_minor, currency, period_days, next_tier_id, trial_periods, override_tier_id, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (id) DO UPDATE SET
  name=$2, price_minor=$3, currency=$4, period_days=$5, next_tier_id=$6, trial_periods=$7, override_tier_id=$8;`

	_, err := execSQL(ctx, r.pool, tx, q,
		t.ID, t.Name, t.PriceMinor, t.Currency, t.PeriodDays, t.NextTierID, t.TrialPeriods, t.OverrideTierID, t.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *tierRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ProductTier, error) {
	const q = `SELECT ` + tierColumns + ` FROM product_tiers WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}

	t := &model.ProductTier{}
	if err := row.Scan(&t.ID, &t.Name, &t.PriceMinor, &t.Currency, &t.PeriodDays, &t.NextTierID, &t.TrialPeriods, &t.OverrideTierID, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return t, nil
}

func (r *tierRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.ProductTier, error) {
	const q = `SELECT ` + tierColumns + ` FROM product_tiers ORDER BY price_minor ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.ProductTier
	for rows.Next() {
		t := new(model.ProductTier)
		if err := rows.Scan(&t.ID, &t.Name, &t.PriceMinor, &t.Currency, &t.PeriodDays, &t.NextTierID, &t.TrialPeriods, &t.OverrideTierID, &t.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, t)
	}
	return out, nil
}
