// Package ratelimit blunts short request bursts with a fixed window per raw
// identifier (API key string or anonymous session token).
package ratelimit

import (
	"context"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/metrics"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultCap    = 50
)

type Config struct {
	Window time.Duration
	Cap    int
}

type Decision struct {
	Allowed bool
	// Count is the number of requests seen in the current window, this one included.
	Count      int
	Limit      int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func (d Decision) Remaining() int {
	return max(0, d.Limit-d.Count)
}

type Limiter struct {
	cfg    Config
	store  repository.WindowsRepository
	onFlag func(identifier string, d Decision)
}

func New(cfg Config, store repository.WindowsRepository) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	l := &Limiter{cfg: cfg, store: store}
	l.onFlag = l.flag
	return l
}

// OnExceeded replaces the hook run when an identifier goes over the cap.
func (l *Limiter) OnExceeded(fn func(identifier string, d Decision)) {
	l.onFlag = fn
}

// Admit counts one request against identifier's window. A window older than
// the window size is replaced rather than incremented.
func (l *Limiter) Admit(ctx context.Context, identifier string, now time.Time) (Decision, error) {
	w, err := l.store.Update(ctx, identifier, func(w *model.RateWindow, found bool) {
		if !found || !w.Start.After(now.Add(-l.cfg.Window)) {
			w.Identifier = identifier
			w.Start = now
			w.Count = 0
		}
		w.Count++
		w.LastRequest = now
	})
	if err != nil {
		return Decision{}, err
	}

	reset := w.Start.Add(l.cfg.Window)
	d := Decision{
		Allowed:   w.Count <= l.cfg.Cap,
		Count:     w.Count,
		Limit:     l.cfg.Cap,
		ResetTime: reset,
	}
	if !d.Allowed {
		d.RetryAfter = max(reset.Sub(now), time.Second)
		if l.onFlag != nil {
			l.onFlag(identifier, d)
		}
	}
	return d, nil
}

// flag records a burst violation. It never deactivates the identity.
func (l *Limiter) flag(identifier string, d Decision) {
	metrics.BurstFlagsTotal.Inc()
	logger.Log.Warn("burst limit exceeded",
		zap.String("identifier", fingerprint(identifier)),
		zap.Int("count", d.Count),
		zap.Int("cap", d.Limit),
		zap.Time("window_reset", d.ResetTime),
	)
}

// fingerprint keeps raw keys out of logs.
func fingerprint(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// RateLimitedError builds the caller-facing error for a rejected decision.
func RateLimitedError(d Decision) *apperr.Error {
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	return apperr.New(apperr.KindRateLimited, "", "too many requests in burst window").
		With("limit", d.Limit).
		With("remaining", 0).
		With("resetTime", d.ResetTime.UTC().Format(time.RFC3339)).
		With("retryAfter", secs)
}
