package middleware

import (
	"github.com/jmehdipour/inference-gateway/internal/identity"
	"github.com/jmehdipour/inference-gateway/internal/model"
	echo "github.com/labstack/echo/v4"
)

const (
	ctxIdentity = "identity"
	ctxBurstKey = "burst_key"

	HeaderSessionID = "X-Session-ID"
)

// IdentityFromCtx extracts the caller set by Identity.
func IdentityFromCtx(c echo.Context) (model.Identity, bool) {
	id, ok := c.Get(ctxIdentity).(model.Identity)
	return id, ok
}

// BurstKeyFromCtx is the raw identifier the burst window was charged to.
func BurstKeyFromCtx(c echo.Context) string {
	s, _ := c.Get(ctxBurstKey).(string)
	return s
}

// rawIdentifier is the bearer token, or the session token when no bearer is sent.
func rawIdentifier(c echo.Context) (credential, session string) {
	credential = identity.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	session = c.Request().Header.Get(HeaderSessionID)
	return credential, session
}

// Identity resolves the caller from "Authorization: Bearer <key>". When
// allowAnonymous is set, a request without a key but with X-Session-ID runs as
// an anonymous session.
func Identity(resolver *identity.Resolver, allowAnonymous bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cred, session := rawIdentifier(c)
			id, err := resolver.Resolve(c.Request().Context(), cred, session, allowAnonymous)
			if err != nil {
				return err
			}
			c.Set(ctxIdentity, id)
			return next(c)
		}
	}
}
