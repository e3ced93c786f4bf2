package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/http/middleware"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/service/gateway"
	echo "github.com/labstack/echo/v4"
)

func listUsageHandler(svc *gateway.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return apperr.Auth(apperr.CodeMissingCredential, "missing api key")
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}
		st := model.UsageStatus(strings.TrimSpace(c.QueryParam("status")))

		recs, err := svc.Usage(c.Request().Context(), id, st, limit, offset)
		if err != nil {
			return err
		}
		if recs == nil {
			recs = []model.UsageRecord{}
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(recs),
			"results": recs,
		})
	}
}
