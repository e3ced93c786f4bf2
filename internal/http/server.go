package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/http/middleware"
	"github.com/jmehdipour/inference-gateway/internal/identity"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/provider"
	"github.com/jmehdipour/inference-gateway/internal/ratelimit"
	"github.com/jmehdipour/inference-gateway/internal/service/gateway"
	"github.com/jmehdipour/inference-gateway/internal/service/keys"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Deps struct {
	Gateway    *gateway.Service
	Keys       *keys.Service
	Registry   *provider.Registry
	Resolver   *identity.Resolver
	Limiter    *ratelimit.Limiter
	AdminToken string
	LogLevel   string
	BodyLimit  string
}

type Server struct{ e *echo.Echo }

func NewServer(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLogLevel(d.LogLevel))
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = errorHandler

	bodyLimit := d.BodyLimit
	if bodyLimit == "" {
		bodyLimit = "2M"
	}
	e.Use(
		echoMid.Recover(),
		echoMid.BodyLimit(bodyLimit),
		echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
			LogMethod:  true,
			LogURIPath: true,
			LogStatus:  true,
			LogLatency: true,
			LogError:   true,
			LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
				logger.Log.Info("request",
					zap.String("method", v.Method),
					zap.String("path", v.URIPath),
					zap.Int("status", v.Status),
					zap.Duration("latency", v.Latency),
				)
				return nil
			},
		}),
	)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	burstMW := middleware.BurstLimit(d.Limiter)
	anonMW := middleware.Identity(d.Resolver, true)
	keyMW := middleware.Identity(d.Resolver, false)

	// routes
	v1 := e.Group("/v1")
	v1.POST("/chat/completions", chatCompletionsHandler(d.Gateway), burstMW, anonMW)
	v1.POST("/images/generations", imageGenerationsHandler(d.Gateway), burstMW, anonMW)
	v1.GET("/models", listModelsHandler(d.Gateway), anonMW)
	v1.GET("/balance", balanceHandler(d.Gateway), anonMW)
	v1.GET("/usage", listUsageHandler(d.Gateway), keyMW)

	v1.POST("/keys", createKeyHandler(d.Keys))
	v1.GET("/keys", listKeysHandler(d.Keys))
	v1.POST("/keys/:id/revoke", setKeyStateHandler(d.Keys, false))
	v1.POST("/keys/:id/reactivate", setKeyStateHandler(d.Keys, true))

	admin := e.Group("/admin", middleware.AdminToken(d.AdminToken))
	admin.POST("/providers", registerProviderHandler(d.Registry))
	admin.GET("/providers", listProvidersHandler(d.Registry))
	admin.POST("/providers/:id/reactivate", reactivateProviderHandler(d.Registry))

	return &Server{e: e}
}

func echoLogLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	err := s.e.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.e.Shutdown(ctx)
}
