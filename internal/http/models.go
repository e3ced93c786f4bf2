package http

import (
	"net/http"

	"github.com/jmehdipour/inference-gateway/internal/service/gateway"
	echo "github.com/labstack/echo/v4"
)

func listModelsHandler(svc *gateway.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ms, err := svc.Models(c.Request().Context())
		if err != nil {
			return err
		}
		data := make([]map[string]any, 0, len(ms))
		for _, m := range ms {
			data = append(data, map[string]any{
				"id":             m.ID,
				"object":         "model",
				"type":           m.Type,
				"context_length": m.ContextLength,
				"owned_by":       m.OwnedBy,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{"object": "list", "data": data})
	}
}
