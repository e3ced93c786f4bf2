package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

type APIKeysRepository interface {
	GetByKey(ctx context.Context, apiKey string) (*model.APIKey, error)
	GetByID(ctx context.Context, id string) (*model.APIKey, error)
	ListByOwner(ctx context.Context, owner string) ([]model.APIKey, error)
	// Create inserts k and deactivates every other active key with the same
	// owner and kind. Returns ErrDuplicateKey when k.Key already exists.
	Create(ctx context.Context, k model.APIKey) error
	// SetActive toggles a key. Activation deactivates active siblings.
	SetActive(ctx context.Context, id string, active bool) (*model.APIKey, error)
}

type APIKeysRepositoryImpl struct {
	db *sqlx.DB
}

func NewAPIKeysRepository(db *sqlx.DB) *APIKeysRepositoryImpl {
	return &APIKeysRepositoryImpl{db: db}
}

var _ APIKeysRepository = (*APIKeysRepositoryImpl)(nil)

const apiKeyColumns = `id, owner_address, name, api_key, kind, is_active, total_usage,
	daily_usage, last_reset_at, created_at, updated_at`

func (r *APIKeysRepositoryImpl) GetByKey(ctx context.Context, apiKey string) (*model.APIKey, error) {
	var k model.APIKey
	err := r.db.GetContext(ctx, &k, `SELECT `+apiKeyColumns+` FROM api_keys WHERE api_key = ? LIMIT 1`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *APIKeysRepositoryImpl) GetByID(ctx context.Context, id string) (*model.APIKey, error) {
	var k model.APIKey
	err := r.db.GetContext(ctx, &k, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *APIKeysRepositoryImpl) ListByOwner(ctx context.Context, owner string) ([]model.APIKey, error) {
	var keys []model.APIKey
	err := r.db.SelectContext(ctx, &keys, `
		SELECT `+apiKeyColumns+`
		  FROM api_keys
		 WHERE owner_address = ?
		 ORDER BY created_at DESC
	`, owner)
	return keys, err
}

func (r *APIKeysRepositoryImpl) Create(ctx context.Context, k model.APIKey) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := deactivateSiblings(ctx, tx, k.Owner, k.Kind, ""); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO api_keys
			    (id, owner_address, name, api_key, kind, is_active, total_usage, daily_usage, last_reset_at, created_at, updated_at)
			VALUES
			    (?,  ?,             ?,    ?,       ?,    ?,         0,           0,           ?,             ?,          ?)
		`, k.ID, k.Owner, k.Name, k.Key, k.Kind.String(), k.Active, k.LastResetAt, k.CreatedAt, k.CreatedAt)
		if isDuplicate(err) {
			return ErrDuplicateKey
		}
		return err
	})
}

func (r *APIKeysRepositoryImpl) SetActive(ctx context.Context, id string, active bool) (*model.APIKey, error) {
	var out model.APIKey
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &out, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ? FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if active {
			if err := deactivateSiblings(ctx, tx, out.Owner, out.Kind, out.ID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE api_keys SET is_active = ?, updated_at = NOW() WHERE id = ?`, active, id,
		); err != nil {
			return err
		}
		out.Active = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// deactivateSiblings locks the active keys of (owner, kind) and turns them off.
func deactivateSiblings(ctx context.Context, tx *sqlx.Tx, owner string, kind model.KeyKind, exceptID string) error {
	var ids []string
	if err := tx.SelectContext(ctx, &ids, `
		SELECT id FROM api_keys
		 WHERE owner_address = ? AND kind = ? AND is_active = 1 AND id <> ?
		 FOR UPDATE
	`, owner, kind.String(), exceptID); err != nil {
		return fmt.Errorf("lock sibling keys: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`UPDATE api_keys SET is_active = 0, updated_at = NOW() WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(q), args...)
	return err
}
