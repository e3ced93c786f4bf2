// Package gateway runs one inference request through admission, provider
// selection, dispatch and accounting.
package gateway

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/accounting"
	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/dispatcher"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/provider"
	"github.com/jmehdipour/inference-gateway/internal/quota"
	"github.com/jmehdipour/inference-gateway/internal/ratelimit"
	"github.com/jmehdipour/inference-gateway/internal/repository"
	"go.uber.org/zap"
)

// Dispatcher is the upstream call path.
type Dispatcher interface {
	Dispatch(ctx context.Context, p model.Provider, req model.InferenceRequest) (model.DispatchResult, error)
}

type Service struct {
	ledger     *quota.Ledger
	limiter    *ratelimit.Limiter
	registry   *provider.Registry
	dispatcher Dispatcher
	catalog    *dispatcher.Catalog
	accountant *accounting.Accountant
	reports    repository.UsageReportsRepository

	// retries is how many extra providers are tried after an upstream failure.
	retries int
	now     func() time.Time
}

type Deps struct {
	Ledger     *quota.Ledger
	Limiter    *ratelimit.Limiter
	Registry   *provider.Registry
	Dispatcher Dispatcher
	Catalog    *dispatcher.Catalog
	Accountant *accounting.Accountant
	Reports    repository.UsageReportsRepository
	Retries    int
}

func New(d Deps) *Service {
	if d.Retries < 0 {
		d.Retries = 0
	}
	return &Service{
		ledger:     d.Ledger,
		limiter:    d.Limiter,
		registry:   d.Registry,
		dispatcher: d.Dispatcher,
		catalog:    d.Catalog,
		accountant: d.Accountant,
		reports:    d.Reports,
		retries:    d.Retries,
		now:        time.Now,
	}
}

// Outcome is a served request plus the caller's quota after it.
type Outcome struct {
	Result model.DispatchResult
	Quota  quota.Result
}

// Infer serves req for id. burstKey is the raw identifier the burst window of
// the first attempt was charged to; every retry charges it again.
func (s *Service) Infer(ctx context.Context, id model.Identity, burstKey string, req model.InferenceRequest) (Outcome, error) {
	peek, err := s.ledger.Peek(ctx, id, id.Tier.DailyLimit)
	if err != nil {
		return Outcome{}, apperr.Internal("read quota", err)
	}
	if !peek.Allowed {
		return Outcome{Quota: peek}, quota.ExceededError(peek)
	}

	var (
		tried    []string
		lastErr  *dispatcher.DispatchError
		retryCut *ratelimit.Decision
	)
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			d, err := s.limiter.Admit(ctx, burstKey, s.now())
			if err != nil {
				return Outcome{}, apperr.Internal("burst window", err)
			}
			if !d.Allowed {
				retryCut = &d
				break
			}
		}

		p, err := s.registry.Select(ctx, tried...)
		if err != nil {
			if attempt == 0 || !apperr.Is(err, apperr.KindNoProvidersAvailable) {
				return Outcome{}, err
			}
			break
		}
		tried = append(tried, p.ID)

		start := time.Now()
		res, err := s.dispatcher.Dispatch(ctx, p, req)
		if err == nil {
			q, aerr := s.accountant.RecordSuccess(ctx, id, req, res)
			if aerr != nil {
				return Outcome{Quota: q}, aerr
			}
			return Outcome{Result: res, Quota: q}, nil
		}

		var de *dispatcher.DispatchError
		if !errors.As(err, &de) {
			de = &dispatcher.DispatchError{ProviderID: p.ID, Reason: dispatcher.ReasonTransport, Err: err}
		}
		s.accountant.RecordFailure(ctx, id, req, p.ID, de.Reason, time.Since(start).Milliseconds())
		logger.Log.Info("dispatch attempt failed",
			zap.String("identity", id.Ref()),
			zap.String("provider_id", p.ID),
			zap.String("reason", de.Reason),
			zap.Int("attempt", attempt+1),
		)
		lastErr = de
	}

	return Outcome{}, s.exhausted(ctx, lastErr, retryCut)
}

// exhausted picks the caller-facing error once no attempt succeeded.
// retryCut is the burst decision that refused a retry, if any.
func (s *Service) exhausted(ctx context.Context, last *dispatcher.DispatchError, retryCut *ratelimit.Decision) error {
	if n, err := s.registry.ActiveCount(ctx); err == nil && n == 0 {
		return s.registry.NoProvidersError()
	}
	var e *apperr.Error
	if last == nil {
		e = apperr.New(apperr.KindUpstream, "", "upstream provider failed")
	} else {
		e = apperr.Upstream("upstream provider failed", last).
			With("provider", last.ProviderID).
			With("reason", last.Reason)
	}
	if retryCut != nil {
		rl := ratelimit.RateLimitedError(*retryCut)
		retryAfter, _ := rl.Detail("retryAfter")
		e = e.With("retry", "burst_limited").With("retryAfter", retryAfter)
	}
	return e
}

// Models is the union of the catalogs of all selectable providers.
func (s *Service) Models(ctx context.Context) ([]model.CatalogModel, error) {
	ps, err := s.registry.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := make([]model.CatalogModel, 0)
	for _, p := range ps {
		ms, err := s.catalog.Models(ctx, p)
		if err != nil {
			logger.Log.Debug("skip provider catalog", zap.String("provider_id", p.ID), zap.Error(err))
			continue
		}
		for _, m := range ms {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Balance reports the caller's effective daily usage without consuming any.
func (s *Service) Balance(ctx context.Context, id model.Identity) (quota.Result, error) {
	q, err := s.ledger.Peek(ctx, id, id.Tier.DailyLimit)
	if err != nil {
		return quota.Result{}, apperr.Internal("read quota", err)
	}
	return q, nil
}

// Usage lists the caller's recent usage records from the analytics store.
func (s *Service) Usage(ctx context.Context, id model.Identity, status model.UsageStatus, limit, offset int) ([]model.UsageRecord, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("status must be success or failed")
	}
	recs, err := s.reports.ListByIdentity(ctx, id.Ref(), status, limit, offset)
	if err != nil {
		return nil, apperr.Internal("list usage", err)
	}
	return recs, nil
}
