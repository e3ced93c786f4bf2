package middleware

import (
	"strings"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/ratelimit"
	echo "github.com/labstack/echo/v4"
)

// BurstLimit charges one slot of the fixed burst window of the raw caller
// identifier before the identity is resolved. Requests with no identifier
// pass through and fail authentication downstream.
func BurstLimit(l *ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cred, session := rawIdentifier(c)
			key := cred
			if key == "" {
				key = strings.TrimSpace(session)
			}
			if key == "" {
				return next(c)
			}

			d, err := l.Admit(c.Request().Context(), key, time.Now())
			if err != nil {
				return apperr.Internal("burst limiter", err)
			}
			if !d.Allowed {
				return ratelimit.RateLimitedError(d)
			}
			c.Set(ctxBurstKey, key)
			return next(c)
		}
	}
}
