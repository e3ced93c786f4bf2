package middleware

import (
	"crypto/subtle"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	echo "github.com/labstack/echo/v4"
)

const HeaderAdminToken = "X-Admin-Token"

// AdminToken guards operator routes. An empty configured token disables them.
func AdminToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return apperr.Forbidden("operator api is disabled")
			}
			got := c.Request().Header.Get(HeaderAdminToken)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return apperr.Auth(apperr.CodeInvalidCredential, "invalid admin token")
			}
			return next(c)
		}
	}
}
