package http

import (
	"net/http"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/http/middleware"
	"github.com/jmehdipour/inference-gateway/internal/service/gateway"
	echo "github.com/labstack/echo/v4"
)

func balanceHandler(svc *gateway.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return apperr.Auth(apperr.CodeMissingCredential, "missing api key")
		}
		q, err := svc.Balance(c.Request().Context(), id)
		if err != nil {
			return err
		}
		setQuotaHeaders(c, q)
		return c.JSON(http.StatusOK, map[string]any{
			"used":             q.Used,
			"limit":            q.Limit,
			"remaining":        q.Remaining,
			"keyType":          id.Kind,
			"pointsPerRequest": id.Tier.PointsPerRequest,
			"resetTime":        q.ResetTime.UTC().Format(time.RFC3339),
		})
	}
}
