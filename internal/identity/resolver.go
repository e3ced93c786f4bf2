// Package identity classifies inbound credentials and loads their tier.
package identity

import (
	"context"
	"strings"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
)

const maxSessionTokenLen = 128

type Resolver struct {
	keys repository.APIKeysRepository
}

func NewResolver(keys repository.APIKeysRepository) *Resolver {
	return &Resolver{keys: keys}
}

// Resolve maps a raw credential (or, when allowAnonymous is set and no
// credential is present, a session token) to an Identity.
func (r *Resolver) Resolve(ctx context.Context, credential, session string, allowAnonymous bool) (model.Identity, error) {
	credential = strings.TrimSpace(credential)
	session = strings.TrimSpace(session)

	if credential == "" {
		if allowAnonymous && session != "" {
			if len(session) > maxSessionTokenLen {
				return model.Identity{}, apperr.Auth(apperr.CodeInvalidCredential, "session token too long")
			}
			return model.Identity{
				Kind:  model.KindAnonymous,
				Tier:  model.TierFor(model.KindAnonymous),
				Token: session,
			}, nil
		}
		return model.Identity{}, apperr.Auth(apperr.CodeMissingCredential, "missing api key")
	}

	kind, ok := model.KindOfKey(credential)
	if !ok {
		return model.Identity{}, apperr.Auth(apperr.CodeInvalidCredential, "invalid api key")
	}

	rec, err := r.keys.GetByKey(ctx, credential)
	if err != nil {
		return model.Identity{}, apperr.Internal("auth lookup failed", err)
	}
	if rec == nil || rec.Kind != kind {
		return model.Identity{}, apperr.Auth(apperr.CodeInvalidCredential, "invalid api key")
	}
	if !rec.Active {
		return model.Identity{}, apperr.Auth(apperr.CodeInactiveCredential, "api key is inactive")
	}

	return model.Identity{
		Kind:  rec.Kind,
		Tier:  model.TierFor(rec.Kind),
		Token: rec.Key,
		KeyID: rec.ID,
		Owner: rec.Owner,
	}, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
