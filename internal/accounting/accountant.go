// Package accounting turns dispatch outcomes into usage records, quota
// consumption and provider reputation.
package accounting

import (
	"context"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/metrics"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/quota"
	"github.com/jmehdipour/inference-gateway/internal/repository"
	"github.com/jmehdipour/inference-gateway/internal/util"
	"go.uber.org/zap"
)

const usageEventVersion = 1

// Publisher forwards usage events to the analytics pipeline.
type Publisher interface {
	PublishUsage(ctx context.Context, ev model.UsageEvent) error
}

type PointsAwarder interface {
	AwardPoints(ctx context.Context, providerID string, tokens int) (int64, error)
}

type Accountant struct {
	usage     repository.UsageRepository
	ledger    *quota.Ledger
	points    PointsAwarder
	publisher Publisher
	now       func() time.Time
}

// New builds an Accountant. publisher may be nil.
func New(usage repository.UsageRepository, ledger *quota.Ledger, points PointsAwarder, publisher Publisher) *Accountant {
	return &Accountant{usage: usage, ledger: ledger, points: points, publisher: publisher, now: time.Now}
}

// RecordSuccess consumes one unit of the caller's daily quota and credits the
// provider. When another request took the last slot first, the returned error
// is QuotaExceeded and the dispatch result must not reach the caller.
func (a *Accountant) RecordSuccess(ctx context.Context, id model.Identity, req model.InferenceRequest, res model.DispatchResult) (quota.Result, error) {
	ctx = context.WithoutCancel(ctx)

	q, err := a.ledger.CheckAndConsume(ctx, id, id.Tier.DailyLimit)
	if err != nil {
		a.append(ctx, a.record(id, req, res.ProviderID, res, model.UsageFailed, "quota_store_error"))
		return quota.Result{}, apperr.Internal("consume quota", err)
	}

	if _, perr := a.points.AwardPoints(ctx, res.ProviderID, res.TotalTokens); perr != nil {
		logger.Log.Warn("award provider points", zap.String("provider_id", res.ProviderID), zap.Error(perr))
	}

	if !q.Allowed {
		a.append(ctx, a.record(id, req, res.ProviderID, res, model.UsageFailed, string(apperr.KindQuotaExceeded)))
		return q, quota.ExceededError(q)
	}

	rec := a.record(id, req, res.ProviderID, res, model.UsageSuccess, "")
	rec.Cost = id.Tier.PointsPerRequest
	a.append(ctx, rec)
	return q, nil
}

// RecordFailure logs a failed dispatch. Quota is untouched.
func (a *Accountant) RecordFailure(ctx context.Context, id model.Identity, req model.InferenceRequest, providerID, reason string, latencyMs int64) {
	rec := a.record(id, req, providerID, model.DispatchResult{LatencyMs: latencyMs}, model.UsageFailed, reason)
	a.append(context.WithoutCancel(ctx), rec)
}

func (a *Accountant) record(id model.Identity, req model.InferenceRequest, providerID string, res model.DispatchResult, status model.UsageStatus, reason string) model.UsageRecord {
	now := a.now().UTC()
	modelID := res.Model
	if modelID == "" {
		modelID = req.Model
	}
	return model.UsageRecord{
		ID:               util.NewAt(now),
		IdentityRef:      id.Ref(),
		IdentityKind:     id.Kind,
		ProviderID:       providerID,
		Model:            modelID,
		Intent:           req.Intent,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		TotalTokens:      res.TotalTokens,
		LatencyMs:        res.LatencyMs,
		Status:           status,
		ErrorReason:      reason,
		CreatedAt:        now,
	}
}

// append stores the record and publishes it. Neither step fails the request.
func (a *Accountant) append(ctx context.Context, rec model.UsageRecord) {
	if err := a.usage.Insert(ctx, rec); err != nil {
		logger.Log.Error("insert usage record",
			zap.String("identity", rec.IdentityRef),
			zap.String("provider_id", rec.ProviderID),
			zap.Error(err),
		)
	}
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishUsage(ctx, model.UsageEvent{Version: usageEventVersion, Record: rec}); err != nil {
		metrics.UsageEventsTotal.WithLabelValues("publish_failed").Inc()
		logger.Log.Warn("publish usage event", zap.String("usage_id", rec.ID), zap.Error(err))
		return
	}
	metrics.UsageEventsTotal.WithLabelValues("published").Inc()
}
