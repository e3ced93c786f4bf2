package http

import (
	"net/http"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/provider"
	echo "github.com/labstack/echo/v4"
)

type registerProviderReq struct {
	Name       string `json:"name" validate:"required,max=100"`
	Address    string `json:"address" validate:"required,url"`
	Owner      string `json:"owner_address"`
	Credential string `json:"credential"`
}

type reactivateProviderReq struct {
	Credential string `json:"credential"`
}

// providerView never exposes the credential itself.
func providerView(p model.Provider) map[string]any {
	v := map[string]any{
		"id":                   p.ID,
		"name":                 p.Name,
		"address":              p.Address,
		"owner_address":        p.Owner,
		"state":                p.State(),
		"credential_set":       p.Credential != "",
		"consecutive_failures": p.ConsecutiveFailures,
		"points":               p.Points,
		"avg_response_ms":      int64(p.AvgResponseMs),
		"total_requests":       p.TotalRequests,
		"created_at":           p.CreatedAt,
	}
	if p.LastFailureAt != nil {
		v["last_failure_at"] = p.LastFailureAt.UTC().Format(time.RFC3339)
	}
	if p.MarkedInactiveAt != nil {
		v["marked_inactive_at"] = p.MarkedInactiveAt.UTC().Format(time.RFC3339)
	}
	return v
}

func registerProviderHandler(reg *provider.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req registerProviderReq
		if err := c.Bind(&req); err != nil {
			return apperr.Validation("malformed json body")
		}
		if err := c.Validate(&req); err != nil {
			return err
		}
		p, err := reg.Register(c.Request().Context(), provider.Registration{
			Name:       req.Name,
			Address:    req.Address,
			Owner:      req.Owner,
			Credential: req.Credential,
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, providerView(*p))
	}
}

func listProvidersHandler(reg *provider.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		ps, err := reg.List(c.Request().Context())
		if err != nil {
			return err
		}
		out := make([]map[string]any, 0, len(ps))
		active := 0
		for _, p := range ps {
			if p.Eligible() {
				active++
			}
			out = append(out, providerView(p))
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":     len(out),
			"active":    active,
			"providers": out,
		})
	}
}

func reactivateProviderHandler(reg *provider.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req reactivateProviderReq
		if c.Request().ContentLength != 0 {
			if err := c.Bind(&req); err != nil {
				return apperr.Validation("malformed json body")
			}
		}
		p, err := reg.Reactivate(c.Request().Context(), c.Param("id"), req.Credential)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, providerView(*p))
	}
}
