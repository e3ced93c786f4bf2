package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// QuotaRepository stores the daily counter of each identity. Update is a
// serializable read-modify-write of a single identity's counter: when fn
// returns an error nothing is written and the counter as read is returned.
type QuotaRepository interface {
	Get(ctx context.Context, id model.Identity) (model.QuotaCounter, error)
	Update(ctx context.Context, id model.Identity, fn func(*model.QuotaCounter) error) (model.QuotaCounter, error)
}

// SessionCountersPruner drops anonymous counters last reset before cutoff.
type SessionCountersPruner interface {
	DeleteStaleSessions(ctx context.Context, cutoff time.Time) (int, error)
}

type quotaRepo struct {
	db *sqlx.DB
}

func NewQuotaRepository(db *sqlx.DB) QuotaRepository { return &quotaRepo{db: db} }

type counterRow struct {
	Used        int          `db:"daily_usage"`
	Total       int64        `db:"total_usage"`
	LastResetAt sql.NullTime `db:"last_reset_at"`
}

func (c counterRow) counter() model.QuotaCounter {
	out := model.QuotaCounter{Used: c.Used, Total: c.Total}
	if c.LastResetAt.Valid {
		out.LastResetAt = c.LastResetAt.Time
	}
	return out
}

func (r *quotaRepo) Get(ctx context.Context, id model.Identity) (model.QuotaCounter, error) {
	var row counterRow
	var err error
	if id.Anonymous() {
		err = r.db.GetContext(ctx, &row, `
			SELECT daily_usage, total_usage, last_reset_at FROM anonymous_usage WHERE session_id = ?
		`, id.Token)
	} else {
		err = r.db.GetContext(ctx, &row, `
			SELECT daily_usage, total_usage, last_reset_at FROM api_keys WHERE id = ?
		`, id.KeyID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.QuotaCounter{}, nil
	}
	if err != nil {
		return model.QuotaCounter{}, err
	}
	return row.counter(), nil
}

func (r *quotaRepo) Update(ctx context.Context, id model.Identity, fn func(*model.QuotaCounter) error) (model.QuotaCounter, error) {
	var current model.QuotaCounter
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		row, err := r.getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		current = row.counter()

		next := current
		if err := fn(&next); err != nil {
			return err
		}

		if id.Anonymous() {
			_, err = tx.ExecContext(ctx, `
				UPDATE anonymous_usage
				   SET daily_usage = ?, total_usage = ?, last_reset_at = ?, updated_at = ?
				 WHERE session_id = ?
			`, next.Used, next.Total, next.LastResetAt, time.Now().UTC(), id.Token)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE api_keys
				   SET daily_usage = ?, total_usage = ?, last_reset_at = ?, updated_at = ?
				 WHERE id = ?
			`, next.Used, next.Total, next.LastResetAt, time.Now().UTC(), id.KeyID)
		}
		if err != nil {
			return err
		}
		current = next
		return nil
	})
	return current, err
}

func (r *quotaRepo) getForUpdate(ctx context.Context, tx *sqlx.Tx, id model.Identity) (counterRow, error) {
	var row counterRow
	if id.Anonymous() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO anonymous_usage (session_id, daily_usage, total_usage, created_at, updated_at)
			VALUES (?, 0, 0, NOW(), NOW())
			ON DUPLICATE KEY UPDATE session_id = session_id
		`, id.Token); err != nil {
			return row, err
		}
		err := tx.GetContext(ctx, &row, `
			SELECT daily_usage, total_usage, last_reset_at
			  FROM anonymous_usage
			 WHERE session_id = ?
			 FOR UPDATE
		`, id.Token)
		return row, err
	}

	err := tx.GetContext(ctx, &row, `
		SELECT daily_usage, total_usage, last_reset_at
		  FROM api_keys
		 WHERE id = ?
		 FOR UPDATE
	`, id.KeyID)
	if errors.Is(err, sql.ErrNoRows) {
		return row, ErrNotFound
	}
	return row, err
}
