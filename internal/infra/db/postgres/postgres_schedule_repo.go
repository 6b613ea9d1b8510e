package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports/repository"
)

var _ repository.ScheduleRepository = (*scheduleRepo)(nil)

type scheduleRepo struct{ pool *pgxpool.Pool }

func NewScheduleRepo(pool *pgxpool.Pool) *scheduleRepo {
	return &scheduleRepo{pool: pool}
}

const scheduleColumns = `id, user_id, token_cid, gateway, tier_id, next_tier_override_id, amount_override, charge_at, retries, state, result_code, result_message, token_expires_at, note, originating_charge_id, produced_charge_id, created_at, updated_at`

func (r *scheduleRepo) Save(ctx context.Context, tx repository.Tx, e *model.ScheduleEntry) error {
	const q = `
INSERT INTO schedule_entries (
  id, user_id, token_cid, gateway, tier_id, next_tier_override_id, amount_override, charge_at, retries, state, result_code, result_message, token_expires_at, note, originating_charge_id, produced_charge_id, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
) ON CONFLICT (id) DO UPDATE SET
  token_cid=$3, tier_id=$5, next_tier_override_id=$6, amount_override=$7, charge_at=$8, retries=$9, state=$10, result_code=$11, result_message=$12, token_expires_at=$13, note=$14, produced_charge_id=$16, updated_at=NOW();`

	_, err := execSQL(ctx, r.pool, tx, q,
		e.ID, e.UserID, e.TokenCID, e.Gateway, e.TierID, e.NextTierOverrideID, e.AmountOverride,
		e.ChargeAt, e.Retries, e.State, e.ResultCode, e.ResultMessage, e.TokenExpiresAt, e.Note,
		e.OriginatingChargeID, e.ProducedChargeID, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// One follow-up per originating charge, closed by a partial
			// unique index on originating_charge_id.
			return domain.ErrDuplicateSchedule
		}
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *scheduleRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ScheduleEntry, error) {
	q := `SELECT ` + scheduleColumns + ` FROM schedule_entries WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanScheduleEntry(row)
}

// ListChargeableNow selects due work in randomized order so concurrent
// drivers do not chase the same head-of-queue rows.
func (r *scheduleRepo) ListChargeableNow(ctx context.Context, tx repository.Tx, now time.Time, lookahead time.Duration, limit int) ([]*model.ScheduleEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + scheduleColumns + `
  FROM schedule_entries
 WHERE state='active'
   AND result_code IS NULL
   AND retries >= 0
   AND charge_at <= $1
 ORDER BY random()
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now.Add(lookahead), limit)
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
	return scanScheduleEntries(rows)
}

func (r *scheduleRepo) FindByOriginatingCharge(ctx context.Context, tx repository.Tx, chargeID string) (*model.ScheduleEntry, error) {
	const q = `SELECT ` + scheduleColumns + ` FROM schedule_entries WHERE originating_charge_id=$1 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, chargeID)
	if err != nil {
		return nil, err
	}
	return scanScheduleEntry(row)
}

func (r *scheduleRepo) FindByProducedCharge(ctx context.Context, tx repository.Tx, chargeID string) (*model.ScheduleEntry, error) {
	const q = `SELECT ` + scheduleColumns + ` FROM schedule_entries WHERE produced_charge_id=$1 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, chargeID)
	if err != nil {
		return nil, err
	}
	return scanScheduleEntry(row)
}

// Claim atomically flips active -> pending while the gateway result is
// still unset. RowsAffected 0 means another worker won the entry.
func (r *scheduleRepo) Claim(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `
UPDATE schedule_entries
   SET state='pending', updated_at=NOW()
 WHERE id=$1
   AND state='active'
   AND result_code IS NULL;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *scheduleRepo) UpdateState(ctx context.Context, tx repository.Tx, id string, state model.ScheduleState, resultCode *string, resultMessage string) error {
	const q = `UPDATE schedule_entries SET state=$2, result_code=$3, result_message=$4, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, state, resultCode, model.TruncateResultMessage(resultMessage))
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *scheduleRepo) SetProducedCharge(ctx context.Context, tx repository.Tx, id, chargeID string) error {
	const q = `UPDATE schedule_entries SET produced_charge_id=$2, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, chargeID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *scheduleRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.ScheduleEntry, error) {
	const q = `SELECT ` + scheduleColumns + ` FROM schedule_entries WHERE user_id=$1 ORDER BY created_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
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
	return scanScheduleEntries(rows)
}

func (r *scheduleRepo) ListDuplicateActive(ctx context.Context, tx repository.Tx) ([]repository.DuplicateActive, error) {
	const q = `
SELECT user_id, COUNT(*), ARRAY_AGG(id ORDER BY created_at)
  FROM schedule_entries
 WHERE state IN ('active','pending')
   AND charge_at > NOW()
 GROUP BY user_id
HAVING COUNT(*) > 1;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []repository.DuplicateActive
	for rows.Next() {
		var d repository.DuplicateActive
		if err := rows.Scan(&d.UserID, &d.Count, &d.EntryIDs); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *scheduleRepo) ListOverdueUnresolved(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.ScheduleEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + scheduleColumns + `
  FROM schedule_entries
 WHERE state IN ('active','pending')
   AND charge_at < $1
 ORDER BY charge_at ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()
	return scanScheduleEntries(rows)
}

func scanScheduleEntry(row pgx.Row) (*model.ScheduleEntry, error) {
	e := &model.ScheduleEntry{}
	err := row.Scan(&e.ID, &e.UserID, &e.TokenCID, &e.Gateway, &e.TierID, &e.NextTierOverrideID,
		&e.AmountOverride, &e.ChargeAt, &e.Retries, &e.State, &e.ResultCode, &e.ResultMessage,
		&e.TokenExpiresAt, &e.Note, &e.OriginatingChargeID, &e.ProducedChargeID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return e, nil
}

func scanScheduleEntries(rows pgx.Rows) ([]*model.ScheduleEntry, error) {
	var out []*model.ScheduleEntry
	for rows.Next() {
		e := new(model.ScheduleEntry)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TokenCID, &e.Gateway, &e.TierID, &e.NextTierOverrideID,
			&e.AmountOverride, &e.ChargeAt, &e.Retries, &e.State, &e.ResultCode, &e.ResultMessage,
			&e.TokenExpiresAt, &e.Note, &e.OriginatingChargeID, &e.ProducedChargeID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, e)
	}
	return out, nil
}
