// Package provider keeps the registry of upstream inference providers and
// their active/inactive health state.
package provider

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/metrics"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
	"github.com/jmehdipour/inference-gateway/internal/util"
	"go.uber.org/zap"
)

type Config struct {
	FailureThreshold int
	Policy           SelectionPolicy
	// RetryAfter is the hint returned when no provider can be selected.
	RetryAfter time.Duration
}

type Registry struct {
	store      repository.ProvidersRepository
	threshold  int
	policy     SelectionPolicy
	retryAfter time.Duration
	now        func() time.Time
}

func NewRegistry(store repository.ProvidersRepository, cfg Config) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Policy == nil {
		cfg.Policy = RandomPolicy
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	return &Registry{
		store:      store,
		threshold:  cfg.FailureThreshold,
		policy:     cfg.Policy,
		retryAfter: cfg.RetryAfter,
		now:        time.Now,
	}
}

type Registration struct {
	Name       string
	Address    string
	Owner      string
	Credential string
}

// Register adds a provider in the active state with a clean failure streak.
// A provider registered without a credential is stored but never selected.
func (r *Registry) Register(ctx context.Context, in Registration) (*model.Provider, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("provider name is required")
	}
	addr := strings.TrimRight(strings.TrimSpace(in.Address), "/")
	u, err := url.ParseRequestURI(addr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Validation("provider address must be an http(s) URL")
	}

	now := r.now().UTC()
	p := model.Provider{
		ID:         util.NewAt(now),
		Name:       name,
		Address:    addr,
		Owner:      strings.TrimSpace(in.Owner),
		Credential: strings.TrimSpace(in.Credential),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperr.Conflict("provider name already registered").With("name", name)
		}
		return nil, apperr.Internal("create provider", err)
	}

	logger.Log.Info("provider registered", zap.String("provider_id", p.ID), zap.String("name", p.Name))
	r.refreshGauge(ctx)
	return &p, nil
}

func (r *Registry) List(ctx context.Context) ([]model.Provider, error) {
	ps, err := r.store.List(ctx)
	if err != nil {
		return nil, apperr.Internal("list providers", err)
	}
	return ps, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*model.Provider, error) {
	p, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal("get provider", err)
	}
	if p == nil {
		return nil, apperr.NotFound("provider not found").With("id", id)
	}
	return p, nil
}

// Candidates returns the eligible providers minus the excluded ids.
func (r *Registry) Candidates(ctx context.Context, exclude ...string) ([]model.Provider, error) {
	ps, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, apperr.Internal("list active providers", err)
	}
	out := ps[:0]
	for _, p := range ps {
		if p.Eligible() && !slices.Contains(exclude, p.ID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Select applies the selection policy to the current candidates.
func (r *Registry) Select(ctx context.Context, exclude ...string) (model.Provider, error) {
	cands, err := r.Candidates(ctx, exclude...)
	if err != nil {
		return model.Provider{}, err
	}
	if len(cands) == 0 {
		return model.Provider{}, r.NoProvidersError()
	}
	return r.policy(cands), nil
}

// ActiveCount is the size of the unfiltered candidate set.
func (r *Registry) ActiveCount(ctx context.Context) (int, error) {
	cands, err := r.Candidates(ctx)
	if err != nil {
		return 0, err
	}
	return len(cands), nil
}

func (r *Registry) NoProvidersError() *apperr.Error {
	return apperr.New(apperr.KindNoProvidersAvailable, "", "no inference providers are currently available").
		With("retryAfter", retryAfterSeconds(r.retryAfter))
}

// retryAfterSeconds rounds up so a sub-second hint never becomes 0.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (r *Registry) MarkSuccess(ctx context.Context, id string, latency time.Duration) error {
	_, err := r.store.Update(ctx, id, func(p *model.Provider) error {
		ApplySuccess(p, latency)
		return nil
	})
	return err
}

// MarkFailure is the only path into the failure branch of the state machine.
func (r *Registry) MarkFailure(ctx context.Context, id string) (model.Provider, error) {
	var deactivated bool
	p, err := r.store.Update(ctx, id, func(p *model.Provider) error {
		deactivated = ApplyFailure(p, r.threshold, r.now())
		return nil
	})
	if err != nil {
		return p, err
	}
	if deactivated {
		logger.Log.Warn("provider deactivated",
			zap.String("provider_id", p.ID),
			zap.Int("consecutive_failures", p.ConsecutiveFailures),
		)
		r.refreshGauge(ctx)
	}
	return p, nil
}

// AwardPoints credits reputation for tokens processed on a successful dispatch.
func (r *Registry) AwardPoints(ctx context.Context, id string, tokens int) (int64, error) {
	var awarded int64
	_, err := r.store.Update(ctx, id, func(p *model.Provider) error {
		awarded = AwardPoints(p, tokens)
		return nil
	})
	return awarded, err
}

// Reactivate is the operator path back to active. A non-empty credential
// rotates the provider's upstream key.
func (r *Registry) Reactivate(ctx context.Context, id, credential string) (*model.Provider, error) {
	p, err := r.store.Update(ctx, id, func(p *model.Provider) error {
		Reactivate(p, strings.TrimSpace(credential))
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("provider not found").With("id", id)
	}
	if err != nil {
		return nil, apperr.Internal("reactivate provider", err)
	}
	logger.Log.Info("provider reactivated", zap.String("provider_id", id), zap.Bool("credential_rotated", credential != ""))
	r.refreshGauge(ctx)
	return &p, nil
}

// ApplyProbe folds a health probe result into the state machine. Probes
// only recover: a healthy probe reactivates an inactive provider, anything
// else leaves the provider as it is.
func (r *Registry) ApplyProbe(ctx context.Context, id string, healthy bool) error {
	outcome := "healthy"
	if !healthy {
		outcome = "unhealthy"
	}
	metrics.ProbesTotal.WithLabelValues(outcome).Inc()
	if !healthy {
		return nil
	}

	var changed bool
	p, err := r.store.Update(ctx, id, func(p *model.Provider) error {
		if !p.Active {
			Reactivate(p, "")
			changed = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		logger.Log.Info("provider state changed by probe",
			zap.String("provider_id", id),
			zap.String("state", p.State()),
		)
		r.refreshGauge(ctx)
	}
	return nil
}

func (r *Registry) refreshGauge(ctx context.Context) {
	if n, err := r.ActiveCount(ctx); err == nil {
		metrics.ProvidersActive.Set(float64(n))
	}
}
