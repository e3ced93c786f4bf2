package repository

import (
	"context"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// UsageRepository is the append-only audit log of dispatches.
type UsageRepository interface {
	Insert(ctx context.Context, rec model.UsageRecord) error
}

type usageRepo struct {
	db *sqlx.DB
}

// NewUsageRepository returns the MySQL audit log. It also serves usage
// reports when no ClickHouse store is configured.
func NewUsageRepository(db *sqlx.DB) *usageRepo { return &usageRepo{db: db} }

var (
	_ UsageRepository        = (*usageRepo)(nil)
	_ UsageReportsRepository = (*usageRepo)(nil)
)

func (r *usageRepo) Insert(ctx context.Context, rec model.UsageRecord) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO usage_records
		    (id, identity_ref, identity_kind, provider_id, model, intent, prompt_tokens, completion_tokens,
		     total_tokens, cost, latency_ms, status, error_reason, created_at)
		VALUES
		    (:id, :identity_ref, :identity_kind, :provider_id, :model, :intent, :prompt_tokens, :completion_tokens,
		     :total_tokens, :cost, :latency_ms, :status, :error_reason, :created_at)
	`, rec)
	return err
}

func (r *usageRepo) ListByIdentity(ctx context.Context, identityRef string, status model.UsageStatus, limit, offset int) ([]model.UsageRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, identity_ref, identity_kind, provider_id, model, intent, prompt_tokens,
		       completion_tokens, total_tokens, cost, latency_ms, status, error_reason, created_at
		  FROM usage_records
		 WHERE identity_ref = ?`
	args := []any{identityRef}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}
	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.UsageRecord
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
