package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
)

// Usage serves both the audit log and the reports/sink roles.
type Usage struct {
	mu   sync.RWMutex
	recs []model.UsageRecord
}

func NewUsage() *Usage { return &Usage{} }

var (
	_ repository.UsageRepository        = (*Usage)(nil)
	_ repository.UsageReportsRepository = (*Usage)(nil)
	_ repository.UsageSinkRepository    = (*Usage)(nil)
)

func (s *Usage) Insert(_ context.Context, rec model.UsageRecord) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	return nil
}

func (s *Usage) InsertBatch(ctx context.Context, recs []model.UsageRecord) error {
	for _, r := range recs {
		_ = s.Insert(ctx, r)
	}
	return nil
}

func (s *Usage) ListByIdentity(_ context.Context, identityRef string, status model.UsageStatus, limit, offset int) ([]model.UsageRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	var out []model.UsageRecord
	for _, r := range s.recs {
		if r.IdentityRef != identityRef {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns a copy of every stored record.
func (s *Usage) All() []model.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.UsageRecord(nil), s.recs...)
}
