package ratelimit

import (
	"context"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/quota"
	"github.com/jmehdipour/inference-gateway/internal/repository"
	"go.uber.org/zap"
)

// Sweeper drops windows idle for longer than Retention and, when Sessions is
// set, anonymous quota counters not reset since the current UTC day began.
type Sweeper struct {
	Store     repository.WindowsRepository
	Sessions  repository.SessionCountersPruner
	Retention time.Duration
	Interval  time.Duration
	Now       func() time.Time
}

func (s *Sweeper) Run(ctx context.Context) {
	if s.Retention <= 0 {
		s.Retention = 24 * time.Hour
	}
	if s.Interval <= 0 {
		s.Interval = 10 * time.Minute
	}
	if s.Now == nil {
		s.Now = time.Now
	}

	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	retention := s.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	at := now()

	if s.Sessions != nil {
		if n, err := s.Sessions.DeleteStaleSessions(ctx, quota.DayStart(at)); err != nil {
			logger.Log.Warn("session counter sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Log.Debug("swept stale session counters", zap.Int("count", n))
		}
	}

	n, err := s.Store.DeleteStale(ctx, at.Add(-retention))
	if err != nil {
		logger.Log.Warn("window sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		logger.Log.Debug("swept stale windows", zap.Int("count", n))
	}
	return n
}
