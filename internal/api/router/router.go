package router

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"cv-ingest/internal/api/handler"
	"cv-ingest/internal/config"
)

// NewServer 创建带追踪和访问日志的 Hertz 实例并注册路由
func NewServer(cfg config.ServerConfig, cvHandler *handler.CVHandler) *server.Hertz {
	tracer, tracingCfg := hertztracing.NewServerTracer()

	opts := []hertzconfig.Option{
		server.WithHostPorts(cfg.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithExitWaitTime(5 * time.Second),
		tracer,
	}
	if cfg.MaxUploadMB > 0 {
		// 为 multipart 其他字段留出余量
		opts = append(opts, server.WithMaxRequestBodySize((cfg.MaxUploadMB+1)<<20))
	}

	h := server.New(opts...)
	h.Use(hertztracing.ServerMiddleware(tracingCfg))
	h.Use(accessLog)
	RegisterRoutes(h, cvHandler, cfg.APIKeys)
	return h
}

func accessLog(c context.Context, ctx *app.RequestContext) {
	start := time.Now()
	ctx.Next(c)
	hlog.CtxInfof(c, "%s %s status=%d latency=%s",
		ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start))
}

// RegisterRoutes 注册 API 路由，apiKeys 非空时 /cv 下的接口需要 Bearer 认证
func RegisterRoutes(h *server.Hertz, cvHandler *handler.CVHandler, apiKeys []string) {
	api := h.Group("/api/v1")
	api.GET("/health", cvHandler.HandleHealth)

	cv := api.Group("/cv")
	if len(apiKeys) > 0 {
		cv.Use(APIKeyAuth(apiKeys))
	}
	cv.POST("/ingest", cvHandler.HandleIngest)
}

// APIKeyAuth 校验 Authorization: Bearer <key>
func APIKeyAuth(apiKeys []string) app.HandlerFunc {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+consts.HeaderAuthorization, "Bearer"),
		keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
			for _, k := range keys {
				if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
					return true, nil
				}
			}
			return false, keyauth.ErrMissingOrMalformedAPIKey
		}),
		keyauth.WithErrorHandler(func(c context.Context, ctx *app.RequestContext, err error) {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{
				"error_kind": "unauthorized",
				"message":    "missing or invalid API key",
			})
		}),
	)
}
