package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
)

// APIKeys also serves as the key-side QuotaRepository through Quota.
type APIKeys struct {
	mu    sync.RWMutex
	byID  map[string]*model.APIKey
	byKey map[string]string

	// owners serializes lifecycle changes for one owner and kind.
	owners keyedMutex
	// rows serializes counter updates for one key.
	rows keyedMutex
}

func NewAPIKeys() *APIKeys {
	return &APIKeys{byID: make(map[string]*model.APIKey), byKey: make(map[string]string)}
}

var _ repository.APIKeysRepository = (*APIKeys)(nil)

func (s *APIKeys) GetByKey(_ context.Context, apiKey string) (*model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[apiKey]
	if !ok {
		return nil, nil
	}
	k := *s.byID[id]
	return &k, nil
}

func (s *APIKeys) GetByID(_ context.Context, id string) (*model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	out := *k
	return &out, nil
}

func (s *APIKeys) ListByOwner(_ context.Context, owner string) ([]model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.APIKey
	for _, k := range s.byID {
		if k.Owner == owner {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *APIKeys) Create(_ context.Context, k model.APIKey) error {
	unlock := s.owners.lock(k.Owner + "|" + k.Kind.String())
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[k.Key]; exists {
		return repository.ErrDuplicateKey
	}
	if _, exists := s.byID[k.ID]; exists {
		return repository.ErrDuplicateKey
	}
	if k.Active {
		s.deactivateSiblingsLocked(k.Owner, k.Kind, "")
	}
	if k.UpdatedAt.IsZero() {
		k.UpdatedAt = k.CreatedAt
	}
	stored := k
	s.byID[k.ID] = &stored
	s.byKey[k.Key] = k.ID
	return nil
}

func (s *APIKeys) SetActive(_ context.Context, id string, active bool) (*model.APIKey, error) {
	s.mu.RLock()
	k, ok := s.byID[id]
	var owner string
	var kind model.KeyKind
	if ok {
		owner, kind = k.Owner, k.Kind
	}
	s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}

	unlock := s.owners.lock(owner + "|" + kind.String())
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	k = s.byID[id]
	if active {
		s.deactivateSiblingsLocked(owner, kind, id)
	}
	k.Active = active
	k.UpdatedAt = time.Now().UTC()
	out := *k
	return &out, nil
}

func (s *APIKeys) deactivateSiblingsLocked(owner string, kind model.KeyKind, exceptID string) {
	for id, other := range s.byID {
		if id != exceptID && other.Owner == owner && other.Kind == kind && other.Active {
			other.Active = false
			other.UpdatedAt = time.Now().UTC()
		}
	}
}

func (s *APIKeys) counter(id string) (model.QuotaCounter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[id]
	if !ok {
		return model.QuotaCounter{}, false
	}
	return model.QuotaCounter{Used: k.DailyUsage, Total: k.TotalUsage, LastResetAt: k.LastResetAt}, true
}

func (s *APIKeys) updateCounter(id string, fn func(*model.QuotaCounter) error) (model.QuotaCounter, error) {
	unlock := s.rows.lock(id)
	defer unlock()

	current, ok := s.counter(id)
	if !ok {
		return model.QuotaCounter{}, repository.ErrNotFound
	}
	next := current
	if err := fn(&next); err != nil {
		return current, err
	}

	s.mu.Lock()
	k := s.byID[id]
	k.DailyUsage = next.Used
	k.TotalUsage = next.Total
	k.LastResetAt = next.LastResetAt
	k.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	return next, nil
}
