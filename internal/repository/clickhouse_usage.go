package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// UsageReportsRepository lists usage records from the analytics store.
type UsageReportsRepository interface {
	ListByIdentity(ctx context.Context, identityRef string, status model.UsageStatus, limit, offset int) ([]model.UsageRecord, error)
}

// UsageSinkRepository receives usage records in batches from the sink worker.
type UsageSinkRepository interface {
	InsertBatch(ctx context.Context, recs []model.UsageRecord) error
}

type chUsageRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHUsageRepository(ch *sqlx.DB) *chUsageRepository {
	return &chUsageRepository{ch: ch}
}

var (
	_ UsageReportsRepository = (*chUsageRepository)(nil)
	_ UsageSinkRepository    = (*chUsageRepository)(nil)
)

func (r *chUsageRepository) ListByIdentity(ctx context.Context, identityRef string, status model.UsageStatus, limit, offset int) ([]model.UsageRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, identity_ref, identity_kind, provider_id, model, intent, prompt_tokens,
		       completion_tokens, total_tokens, cost, latency_ms, status, error_reason, created_at
		FROM gateway.usage_records
		WHERE identity_ref = ?
	`
	args := []any{identityRef}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.UsageRecord
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertBatch uses the clickhouse-go prepared batch: all rows are sent on commit.
func (r *chUsageRepository) InsertBatch(ctx context.Context, recs []model.UsageRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.ch.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gateway.usage_records
		    (id, identity_ref, identity_kind, provider_id, model, intent, prompt_tokens,
		     completion_tokens, total_tokens, cost, latency_ms, status, error_reason, created_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.IdentityRef, rec.IdentityKind.String(), rec.ProviderID, rec.Model, rec.Intent.String(),
			int32(rec.PromptTokens), int32(rec.CompletionTokens), int32(rec.TotalTokens), int32(rec.Cost),
			rec.LatencyMs, rec.Status.String(), rec.ErrorReason, rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("append %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}
