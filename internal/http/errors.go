package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/http/middleware"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// errorHandler renders every error as {"error": {type, code, message, ...details}}.
// Rate-limit details are mirrored into X-RateLimit-* and Retry-After headers.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind := apperr.KindInternal
		switch he.Code {
		case http.StatusNotFound:
			kind = apperr.KindNotFound
		case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
			kind = apperr.KindValidation
		case http.StatusMethodNotAllowed:
			kind = "method_not_allowed"
		}
		_ = c.JSON(he.Code, map[string]any{"error": map[string]any{
			"type":    kind,
			"code":    kind,
			"message": fmt.Sprint(he.Message),
		}})
		return
	}

	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("internal error", err)
	}

	fields := []zap.Field{
		zap.String("kind", string(e.Kind)),
		zap.String("path", c.Path()),
	}
	if id, ok := middleware.IdentityFromCtx(c); ok {
		fields = append(fields, zap.String("identity", id.Ref()))
	}
	if e.Kind == apperr.KindInternal {
		logger.Log.Error("request failed", append(fields, zap.Error(e))...)
	} else {
		logger.Log.Debug("request rejected", append(fields, zap.String("code", e.Code))...)
	}

	writeLimitHeaders(c, e)

	body := map[string]any{
		"type":    e.Kind,
		"code":    e.Code,
		"message": e.Message,
	}
	if e.Kind == apperr.KindInternal {
		body["message"] = "internal error"
	}
	for k, v := range e.Details {
		body[k] = v
	}
	_ = c.JSON(e.Status(), map[string]any{"error": body})
}

func writeLimitHeaders(c echo.Context, e *apperr.Error) {
	h := c.Response().Header()
	if v, ok := e.Detail("limit"); ok {
		h.Set("X-RateLimit-Limit", fmt.Sprint(v))
	}
	if v, ok := e.Detail("remaining"); ok {
		h.Set("X-RateLimit-Remaining", fmt.Sprint(v))
	}
	if v, ok := e.Detail("resetTime"); ok {
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				h.Set("X-RateLimit-Reset", strconv.FormatInt(t.Unix(), 10))
			}
		}
	}
	if v, ok := e.Detail("retryAfter"); ok {
		h.Set("Retry-After", fmt.Sprint(v))
	}
}
