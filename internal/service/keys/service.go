// Package keys manages the API key lifecycle for key owners.
package keys

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
	"github.com/jmehdipour/inference-gateway/internal/util"
	"go.uber.org/zap"
)

const maxGenerateAttempts = 5

var ErrKeyGenerationExhausted = errors.New("could not generate a unique api key")

// View is the listing form of a key; the full key string is never included.
type View struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Preview    string    `json:"preview"`
	Active     bool      `json:"active"`
	TotalUsage int64     `json:"total_usage"`
	DailyUsage int       `json:"daily_usage"`
	CreatedAt  time.Time `json:"created_at"`
}

type Service struct {
	keys     repository.APIKeysRepository
	generate func(prefix string) string
	now      func() time.Time
}

func New(keys repository.APIKeysRepository) *Service {
	return &Service{keys: keys, generate: util.NewAPIKey, now: time.Now}
}

// Create issues a new active key. Any other active key of the same owner and
// kind is deactivated. The returned record is the only time the full key is
// exposed.
func (s *Service) Create(ctx context.Context, owner, name string, kind model.KeyKind) (*model.APIKey, error) {
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	if owner == "" {
		return nil, apperr.Validation("owner address is required")
	}
	if name == "" || len(name) > 100 {
		return nil, apperr.Validation("name must be 1-100 characters")
	}
	if kind.Prefix() == "" {
		return nil, apperr.Validation("kind must be developer or agent")
	}

	now := s.now().UTC()
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		k := model.APIKey{
			ID:          util.NewAt(now),
			Owner:       owner,
			Name:        name,
			Key:         s.generate(kind.Prefix()),
			Kind:        kind,
			Active:      true,
			LastResetAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := s.keys.Create(ctx, k)
		if err == nil {
			logger.Log.Info("api key created",
				zap.String("key_id", k.ID),
				zap.String("owner", owner),
				zap.String("kind", kind.String()),
			)
			return &k, nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperr.Internal("create api key", err)
		}
	}
	return nil, apperr.Internal("create api key", ErrKeyGenerationExhausted)
}

func (s *Service) List(ctx context.Context, owner string) ([]View, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, apperr.Validation("owner address is required")
	}
	ks, err := s.keys.ListByOwner(ctx, owner)
	if err != nil {
		return nil, apperr.Internal("list api keys", err)
	}
	out := make([]View, 0, len(ks))
	for _, k := range ks {
		out = append(out, View{
			ID:         k.ID,
			Name:       k.Name,
			Kind:       k.Kind.String(),
			Preview:    util.MaskKey(k.Key),
			Active:     k.Active,
			TotalUsage: k.TotalUsage,
			DailyUsage: k.DailyUsage,
			CreatedAt:  k.CreatedAt,
		})
	}
	return out, nil
}

// Revoke deactivates a key. Records are never deleted.
func (s *Service) Revoke(ctx context.Context, owner, id string) (*View, error) {
	return s.setActive(ctx, owner, id, false)
}

// Reactivate turns a revoked key back on, deactivating the owner's other
// active key of the same kind.
func (s *Service) Reactivate(ctx context.Context, owner, id string) (*View, error) {
	return s.setActive(ctx, owner, id, true)
}

func (s *Service) setActive(ctx context.Context, owner, id string, active bool) (*View, error) {
	k, err := s.keys.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal("get api key", err)
	}
	if k == nil {
		return nil, apperr.NotFound("api key not found").With("id", id)
	}
	if k.Owner != strings.TrimSpace(owner) {
		return nil, apperr.Forbidden("api key belongs to another owner")
	}

	k, err = s.keys.SetActive(ctx, id, active)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("api key not found").With("id", id)
	}
	if err != nil {
		return nil, apperr.Internal("update api key", err)
	}
	logger.Log.Info("api key state changed", zap.String("key_id", id), zap.Bool("active", active))
	return &View{
		ID:         k.ID,
		Name:       k.Name,
		Kind:       k.Kind.String(),
		Preview:    util.MaskKey(k.Key),
		Active:     k.Active,
		TotalUsage: k.TotalUsage,
		DailyUsage: k.DailyUsage,
		CreatedAt:  k.CreatedAt,
	}, nil
}
