package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports/repository"
)

var _ repository.ChargeRepository = (*chargeRepo)(nil)

type chargeRepo struct{ pool *pgxpool.Pool }

func NewChargeRepo(pool *pgxpool.Pool) *chargeRepo {
	return &chargeRepo{pool: pool}
}

const chargeColumns = `id, user_id, tier_id, gateway, amount, currency, status, items, created_at, updated_at, paid_at, subscription_id`

// chargeItem mirrors model.ChargeItem for the jsonb column.
type chargeItem struct {
	Label     string `json:"label"`
	Amount    int64  `json:"amount"`
	Recurring bool   `json:"recurring"`
}

func encodeItems(items []model.ChargeItem) ([]byte, error) {
	if len(items) == 0 {
		return []byte("[]"), nil
	}
	enc := make([]chargeItem, len(items))
	for i, it := range items {
		enc[i] = chargeItem(it)
	}
	return json.Marshal(enc)
}

func decodeItems(raw []byte) ([]model.ChargeItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var dec []chargeItem
	if err := json.Unmarshal(raw, &dec); err != nil {
		return nil, err
	}
	if len(dec) == 0 {
		return nil, nil
	}
	out := make([]model.ChargeItem, len(dec))
	for i, it := range dec {
		out[i] = model.ChargeItem(it)
	}
	return out, nil
}

func (r *chargeRepo) Save(ctx context.Context, tx repository.Tx, c *model.ChargeRecord) error {
	items, err := encodeItems(c.Items)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO charges (
  id, user_id, tier_id, gateway, amount, currency, status, items, created_at, updated_at, paid_at, subscription_id
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
) ON CONFLICT (id) DO UPDATE SET
  status=$7, items=$8, updated_at=NOW(), paid_at=$11, subscription_id=$12;`

	_, err = execSQL(ctx, r.pool, tx, q,
		c.ID, c.UserID, c.TierID, c.Gateway, c.Amount, c.Currency, c.Status, items,
		c.CreatedAt, c.UpdatedAt, c.PaidAt, c.SubscriptionID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *chargeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ChargeRecord, error) {
	q := `SELECT ` + chargeColumns + ` FROM charges WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanCharge(row)
}

// statusPriors lists the statuses a record may hold before moving to the
// target, mirroring ChargeRecord.CanTransitionTo so the monotone
// lifecycle holds inside the UPDATE itself.
func statusPriors(target model.ChargeStatus) []string {
	priors := []string{string(model.ChargeStatusDrafted), string(model.ChargeStatusAuthorized)}
	switch target {
	case model.ChargeStatusDrafted:
		priors = []string{string(model.ChargeStatusAuthorized)}
	case model.ChargeStatusAuthorized:
		priors = []string{string(model.ChargeStatusDrafted)}
	case model.ChargeStatusRefunded:
		priors = append(priors, string(model.ChargeStatusPaid), string(model.ChargeStatusPrepaid))
	}
	return priors
}

func (r *chargeRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.ChargeStatus, paidAt *time.Time) error {
	const q = `UPDATE charges SET status=$2, paid_at=COALESCE($3, paid_at), updated_at=NOW() WHERE id=$1 AND status=ANY($4);`
	ct, err := execSQL(ctx, r.pool, tx, q, id, status, paidAt, statusPriors(status))
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	if ct.RowsAffected() == 0 {
		if _, ferr := r.FindByID(ctx, tx, id); ferr != nil {
			return ferr
		}
		return domain.ErrInvalidArgument
	}
	return nil
}

func (r *chargeRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.ChargeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + chargeColumns + ` FROM charges WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, limit)
	if err != nil {
		switch err {
		case pgx.ErrNoRows:
			return nil, domain.ErrNotFound
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.ChargeRecord
	for rows.Next() {
		c, err := scanChargeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// LastChargeTimeForToken feeds the fast-charge guard: how recently did
// any non-drafted attempt run against this stored token.
func (r *chargeRepo) LastChargeTimeForToken(ctx context.Context, tx repository.Tx, tokenCID string) (time.Time, error) {
	const q = `
SELECT c.created_at
  FROM charges c
  JOIN schedule_entries e ON e.produced_charge_id = c.id
 WHERE e.token_cid = $1
   AND c.status <> 'drafted'
 ORDER BY c.created_at DESC
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, tokenCID)
	if err != nil {
		return time.Time{}, err
	}
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, domain.ErrReadDatabaseRow
	}
	return t, nil
}

func (r *chargeRepo) SumSettledByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0) FROM charges WHERE status IN ('paid','prepaid') AND paid_at >= DATE_TRUNC($1, NOW());`
	row, err := pickRow(ctx, r.pool, tx, q, period)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func scanCharge(row pgx.Row) (*model.ChargeRecord, error) {
	c := &model.ChargeRecord{}
	var items []byte
	err := row.Scan(&c.ID, &c.UserID, &c.TierID, &c.Gateway, &c.Amount, &c.Currency, &c.Status,
		&items, &c.CreatedAt, &c.UpdatedAt, &c.PaidAt, &c.SubscriptionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if c.Items, err = decodeItems(items); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return c, nil
}

func scanChargeRows(rows pgx.Rows) (*model.ChargeRecord, error) {
	c := &model.ChargeRecord{}
	var items []byte
	err := rows.Scan(&c.ID, &c.UserID, &c.TierID, &c.Gateway, &c.Amount, &c.Currency, &c.Status,
		&items, &c.CreatedAt, &c.UpdatedAt, &c.PaidAt, &c.SubscriptionID)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if c.Items, err = decodeItems(items); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return c, nil
}
