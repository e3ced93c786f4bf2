package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/service/keys"
	"github.com/jmehdipour/inference-gateway/internal/util"
	echo "github.com/labstack/echo/v4"
)

const headerOwnerAddress = "X-Owner-Address"

type createKeyReq struct {
	Name string `json:"name" validate:"required,max=100"`
	Kind string `json:"kind" validate:"required"`
}

func ownerOf(c echo.Context) (string, error) {
	owner := strings.TrimSpace(c.Request().Header.Get(headerOwnerAddress))
	if owner == "" {
		return "", apperr.Auth(apperr.CodeMissingCredential, "missing "+headerOwnerAddress+" header")
	}
	return owner, nil
}

func createKeyHandler(svc *keys.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := ownerOf(c)
		if err != nil {
			return err
		}
		var req createKeyReq
		if err := c.Bind(&req); err != nil {
			return apperr.Validation("malformed json body")
		}
		if err := c.Validate(&req); err != nil {
			return err
		}
		kind, ok := model.ParseKeyKind(req.Kind)
		if !ok {
			return apperr.Validation("kind must be developer or agent")
		}

		k, err := svc.Create(c.Request().Context(), owner, req.Name, kind)
		if err != nil {
			return err
		}
		// The full key is returned once, here.
		return c.JSON(http.StatusCreated, map[string]any{
			"id":          k.ID,
			"key":         k.Key,
			"preview":     util.MaskKey(k.Key),
			"name":        k.Name,
			"kind":        k.Kind,
			"active":      k.Active,
			"daily_limit": model.TierFor(k.Kind).DailyLimit,
			"created_at":  k.CreatedAt,
		})
	}
}

func listKeysHandler(svc *keys.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := ownerOf(c)
		if err != nil {
			return err
		}
		views, err := svc.List(c.Request().Context(), owner)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{
			"owner": owner,
			"count": len(views),
			"keys":  views,
		})
	}
}

func setKeyStateHandler(svc *keys.Service, active bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := ownerOf(c)
		if err != nil {
			return err
		}
		var v *keys.View
		if active {
			v, err = svc.Reactivate(c.Request().Context(), owner, c.Param("id"))
		} else {
			v, err = svc.Revoke(c.Request().Context(), owner, c.Param("id"))
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, v)
	}
}
