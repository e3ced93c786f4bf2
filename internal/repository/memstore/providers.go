package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
)

type Providers struct {
	mu   sync.RWMutex
	byID map[string]model.Provider
	rows keyedMutex
}

func NewProviders() *Providers {
	return &Providers{byID: make(map[string]model.Provider)}
}

var _ repository.ProvidersRepository = (*Providers)(nil)

func (s *Providers) Create(_ context.Context, p model.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.byID {
		if other.ID == p.ID || other.Name == p.Name {
			return repository.ErrDuplicateKey
		}
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	s.byID[p.ID] = p
	return nil
}

func (s *Providers) GetByID(_ context.Context, id string) (*model.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Providers) GetByName(_ context.Context, name string) (*model.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byID {
		if p.Name == name {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Providers) List(_ context.Context) ([]model.Provider, error) {
	return s.filter(func(model.Provider) bool { return true }), nil
}

func (s *Providers) ListActive(_ context.Context) ([]model.Provider, error) {
	return s.filter(model.Provider.Eligible), nil
}

func (s *Providers) filter(keep func(model.Provider) bool) []model.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Provider, 0, len(s.byID))
	for _, p := range s.byID {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Providers) Update(_ context.Context, id string, fn func(*model.Provider) error) (model.Provider, error) {
	unlock := s.rows.lock(id)
	defer unlock()

	s.mu.RLock()
	current, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return model.Provider{}, repository.ErrNotFound
	}

	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	next.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.byID[id] = next
	s.mu.Unlock()
	return next, nil
}
