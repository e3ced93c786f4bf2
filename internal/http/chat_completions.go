package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/http/middleware"
	"github.com/jmehdipour/inference-gateway/internal/metrics"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/quota"
	"github.com/jmehdipour/inference-gateway/internal/service/gateway"
	"github.com/jmehdipour/inference-gateway/internal/util"
	echo "github.com/labstack/echo/v4"
)

type chatReq struct {
	Model       string          `json:"model"`
	Intent      string          `json:"intent"`
	Messages    []model.Message `json:"messages" validate:"required,min=1,max=256,dive"`
	MaxTokens   int             `json:"max_tokens" validate:"gte=0,lte=131072"`
	Temperature *float32        `json:"temperature" validate:"omitempty,gte=0,lte=2"`
}

func chatCompletionsHandler(svc *gateway.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req chatReq
		if err := c.Bind(&req); err != nil {
			return apperr.Validation("malformed json body")
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		intent, ok := model.ParseIntent(req.Intent)
		if !ok {
			return apperr.Validation("intent must be one of chat, code, analysis")
		}
		if intent == model.IntentImage {
			return apperr.Validation("use /v1/images/generations for image requests")
		}
		hasContent := false
		for _, m := range req.Messages {
			if strings.TrimSpace(m.Content) != "" {
				hasContent = true
				break
			}
		}
		if !hasContent {
			return apperr.Validation("messages must carry some content")
		}

		id, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return apperr.Auth(apperr.CodeMissingCredential, "missing api key")
		}

		out, err := svc.Infer(c.Request().Context(), id, middleware.BurstKeyFromCtx(c), model.InferenceRequest{
			Intent:      intent,
			Model:       strings.TrimSpace(req.Model),
			Messages:    req.Messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		if err != nil {
			metrics.RequestsTotal.WithLabelValues("chat", outcomeOf(err)).Inc()
			return err
		}
		metrics.RequestsTotal.WithLabelValues("chat", "ok").Inc()
		setQuotaHeaders(c, out.Quota)

		res := out.Result
		finish := res.FinishReason
		if finish == "" {
			finish = "stop"
		}
		return c.JSON(http.StatusOK, map[string]any{
			"id":       util.CompletionID(),
			"object":   "chat.completion",
			"created":  time.Now().Unix(),
			"model":    res.Model,
			"provider": res.ProviderID,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": res.Content},
				"finish_reason": finish,
			}},
			"usage": map[string]int{
				"prompt_tokens":     res.PromptTokens,
				"completion_tokens": res.CompletionTokens,
				"total_tokens":      res.TotalTokens,
			},
		})
	}
}

func setQuotaHeaders(c echo.Context, q quota.Result) {
	if q.Limit == 0 {
		return
	}
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(q.ResetTime.Unix(), 10))
}

func outcomeOf(err error) string {
	if e, ok := apperr.As(err); ok {
		return string(e.Kind)
	}
	return string(apperr.KindInternal)
}
