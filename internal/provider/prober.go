package provider

import (
	"context"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Checker performs one health check against a provider.
type Checker interface {
	Check(ctx context.Context, p model.Provider) error
}

// Prober periodically checks every provider that has a credential and
// applies the result to the registry. Checks are paced by Limiter.
type Prober struct {
	Registry *Registry
	Checker  Checker
	Interval time.Duration
	Timeout  time.Duration
	Limiter  *rate.Limiter
}

func (p *Prober) Run(ctx context.Context) {
	if p.Interval <= 0 {
		p.Interval = time.Minute
	}
	t := time.NewTicker(p.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce checks all providers once and returns how many were healthy.
func (p *Prober) ProbeOnce(ctx context.Context) int {
	ps, err := p.Registry.List(ctx)
	if err != nil {
		logger.Log.Warn("probe: list providers", zap.Error(err))
		return 0
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	healthy := 0
	for _, prov := range ps {
		if prov.Credential == "" {
			continue
		}
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return healthy
			}
		}

		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Checker.Check(cctx, prov)
		cancel()
		if ctx.Err() != nil {
			return healthy
		}
		if err == nil {
			healthy++
		} else {
			logger.Log.Debug("probe failed", zap.String("provider_id", prov.ID), zap.Error(err))
		}
		if aerr := p.Registry.ApplyProbe(ctx, prov.ID, err == nil); aerr != nil {
			logger.Log.Warn("probe: apply result", zap.String("provider_id", prov.ID), zap.Error(aerr))
		}
	}
	return healthy
}
