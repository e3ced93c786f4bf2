// Package dispatcher sends one inference request to one provider and reports
// the outcome to the provider's health state.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/metrics"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

// Failure reasons carried by DispatchError.
const (
	ReasonTimeout         = "timeout"
	ReasonTransport       = "transport"
	ReasonUpstreamStatus  = "upstream_status"
	ReasonMalformed       = "malformed_response"
	ReasonCatalog         = "catalog_unavailable"
	ReasonNoMatchingModel = "no_matching_model"
)

type DispatchError struct {
	ProviderID string
	Reason     string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch provider=%s reason=%s: %v", e.ProviderID, e.Reason, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// CountsAgainstHealth is false for failures that say nothing about the
// provider's availability.
func (e *DispatchError) CountsAgainstHealth() bool {
	return e.Reason != ReasonNoMatchingModel
}

// HealthReporter receives the outcome of every dispatch.
type HealthReporter interface {
	MarkSuccess(ctx context.Context, id string, latency time.Duration) error
	MarkFailure(ctx context.Context, id string) (model.Provider, error)
}

type Config struct {
	Timeout time.Duration
	Ranker  ModelRanker
}

type Dispatcher struct {
	upstream Upstream
	catalog  *Catalog
	health   HealthReporter
	ranker   ModelRanker
	timeout  time.Duration
}

func New(upstream Upstream, catalog *Catalog, health HealthReporter, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Ranker == nil {
		cfg.Ranker = HeuristicRanker
	}
	return &Dispatcher{upstream: upstream, catalog: catalog, health: health, ranker: cfg.Ranker, timeout: cfg.Timeout}
}

// Dispatch runs req against p within the dispatch timeout. Any returned error
// is a *DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, p model.Provider, req model.InferenceRequest) (model.DispatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	models, err := d.catalog.Models(ctx, p)
	if err != nil {
		return model.DispatchResult{}, d.fail(ctx, p, classify(ReasonCatalog, err), err)
	}

	modelID, ok := d.ranker(req.Intent, req.Model, models)
	if !ok {
		metrics.DispatchTotal.WithLabelValues(p.Name, ReasonNoMatchingModel).Inc()
		return model.DispatchResult{}, &DispatchError{
			ProviderID: p.ID,
			Reason:     ReasonNoMatchingModel,
			Err:        fmt.Errorf("no %s model for intent %s", req.Intent.MediaType(), req.Intent),
		}
	}

	start := time.Now()
	var res model.DispatchResult
	if req.Intent == model.IntentImage {
		res, err = d.upstream.GenerateImage(ctx, p, modelID, req)
	} else {
		res, err = d.upstream.Complete(ctx, p, modelID, req)
	}
	latency := time.Since(start)
	metrics.DispatchLatency.WithLabelValues(p.Name).Observe(latency.Seconds())

	if err != nil {
		return model.DispatchResult{}, d.fail(ctx, p, classify(ReasonTransport, err), err)
	}

	res.ProviderID = p.ID
	res.LatencyMs = latency.Milliseconds()
	metrics.DispatchTotal.WithLabelValues(p.Name, "success").Inc()
	if herr := d.health.MarkSuccess(context.WithoutCancel(ctx), p.ID, latency); herr != nil {
		logger.Log.Warn("report provider success", zap.String("provider_id", p.ID), zap.Error(herr))
	}
	return res, nil
}

func (d *Dispatcher) fail(ctx context.Context, p model.Provider, reason string, err error) *DispatchError {
	metrics.DispatchTotal.WithLabelValues(p.Name, "failed").Inc()
	logger.Log.Warn("dispatch failed",
		zap.String("provider_id", p.ID),
		zap.String("reason", reason),
		zap.Error(err),
	)
	if _, herr := d.health.MarkFailure(context.WithoutCancel(ctx), p.ID); herr != nil {
		logger.Log.Warn("report provider failure", zap.String("provider_id", p.ID), zap.Error(herr))
	}
	return &DispatchError{ProviderID: p.ID, Reason: reason, Err: err}
}

func classify(fallback string, err error) string {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimeout
	case errors.As(err, &apiErr), errors.As(err, &reqErr):
		return ReasonUpstreamStatus
	case errors.Is(err, errMalformed):
		return ReasonMalformed
	default:
		return fallback
	}
}
