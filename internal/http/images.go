package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/http/middleware"
	"github.com/jmehdipour/inference-gateway/internal/metrics"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/service/gateway"
	echo "github.com/labstack/echo/v4"
)

type imageReq struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
	Model  string `json:"model"`
	N      int    `json:"n" validate:"gte=0,lte=4"`
	Size   string `json:"size" validate:"omitempty,oneof=256x256 512x512 1024x1024 1024x1792 1792x1024"`
}

func imageGenerationsHandler(svc *gateway.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req imageReq
		if err := c.Bind(&req); err != nil {
			return apperr.Validation("malformed json body")
		}
		req.Prompt = strings.TrimSpace(req.Prompt)
		if err := c.Validate(&req); err != nil {
			return err
		}
		if req.N == 0 {
			req.N = 1
		}

		id, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return apperr.Auth(apperr.CodeMissingCredential, "missing api key")
		}

		out, err := svc.Infer(c.Request().Context(), id, middleware.BurstKeyFromCtx(c), model.InferenceRequest{
			Intent: model.IntentImage,
			Model:  strings.TrimSpace(req.Model),
			Prompt: req.Prompt,
			N:      req.N,
			Size:   req.Size,
		})
		if err != nil {
			metrics.RequestsTotal.WithLabelValues("image", outcomeOf(err)).Inc()
			return err
		}
		metrics.RequestsTotal.WithLabelValues("image", "ok").Inc()
		setQuotaHeaders(c, out.Quota)

		return c.JSON(http.StatusOK, map[string]any{
			"created":  time.Now().Unix(),
			"model":    out.Result.Model,
			"provider": out.Result.ProviderID,
			"data":     out.Result.Images,
		})
	}
}
