package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// ProvidersRepository persists providers. Update is a per-provider atomic
// read-modify-write; there is no cross-provider transaction.
type ProvidersRepository interface {
	Create(ctx context.Context, p model.Provider) error
	GetByID(ctx context.Context, id string) (*model.Provider, error)
	GetByName(ctx context.Context, name string) (*model.Provider, error)
	List(ctx context.Context) ([]model.Provider, error)
	ListActive(ctx context.Context) ([]model.Provider, error)
	Update(ctx context.Context, id string, fn func(*model.Provider) error) (model.Provider, error)
}

type ProvidersRepositoryImpl struct {
	db *sqlx.DB
}

func NewProvidersRepository(db *sqlx.DB) *ProvidersRepositoryImpl {
	return &ProvidersRepositoryImpl{db: db}
}

var _ ProvidersRepository = (*ProvidersRepositoryImpl)(nil)

const providerColumns = `id, name, address, owner_address, credential, is_active, consecutive_failures,
	last_failure_at, marked_inactive_at, points, avg_response_ms, total_requests, created_at, updated_at`

func (r *ProvidersRepositoryImpl) Create(ctx context.Context, p model.Provider) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO providers
		    (id, name, address, owner_address, credential, is_active, consecutive_failures,
		     points, avg_response_ms, total_requests, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, 0, 0, 0, 0, ?, ?)
	`, p.ID, p.Name, p.Address, p.Owner, p.Credential, p.Active, p.CreatedAt, p.CreatedAt)
	if isDuplicate(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *ProvidersRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Provider, error) {
	return r.getOne(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ? LIMIT 1`, id)
}

func (r *ProvidersRepositoryImpl) GetByName(ctx context.Context, name string) (*model.Provider, error) {
	return r.getOne(ctx, `SELECT `+providerColumns+` FROM providers WHERE name = ? LIMIT 1`, name)
}

func (r *ProvidersRepositoryImpl) getOne(ctx context.Context, q string, arg any) (*model.Provider, error) {
	var p model.Provider
	err := r.db.GetContext(ctx, &p, q, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProvidersRepositoryImpl) List(ctx context.Context) ([]model.Provider, error) {
	var ps []model.Provider
	err := r.db.SelectContext(ctx, &ps, `SELECT `+providerColumns+` FROM providers ORDER BY created_at`)
	return ps, err
}

func (r *ProvidersRepositoryImpl) ListActive(ctx context.Context) ([]model.Provider, error) {
	var ps []model.Provider
	err := r.db.SelectContext(ctx, &ps, `
		SELECT `+providerColumns+`
		  FROM providers
		 WHERE is_active = 1 AND credential <> ''
		 ORDER BY created_at
	`)
	return ps, err
}

func (r *ProvidersRepositoryImpl) Update(ctx context.Context, id string, fn func(*model.Provider) error) (model.Provider, error) {
	var out model.Provider
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &out, `SELECT `+providerColumns+` FROM providers WHERE id = ? FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		next := out
		if err := fn(&next); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE providers
			   SET credential = ?, is_active = ?, consecutive_failures = ?, last_failure_at = ?,
			       marked_inactive_at = ?, points = ?, avg_response_ms = ?, total_requests = ?,
			       updated_at = NOW()
			 WHERE id = ?
		`, next.Credential, next.Active, next.ConsecutiveFailures, next.LastFailureAt,
			next.MarkedInactiveAt, next.Points, next.AvgResponseMs, next.TotalRequests, id,
		); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}
