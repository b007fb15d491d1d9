package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/feedback-annotator/internal/http/handlers"
	httpMW "github.com/yungbote/feedback-annotator/internal/http/middleware"
	"github.com/yungbote/feedback-annotator/internal/observability"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string

	HealthHandler *httpH.HealthHandler
	RunHandler    *httpH.RunHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachInvocation())
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.RequestLogger(cfg.Log))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	v1 := r.Group("/v1")
	{
		if cfg.RunHandler != nil {
			v1.POST("/runs", cfg.RunHandler.Trigger)
			v1.GET("/runs", cfg.RunHandler.List)
			v1.GET("/runs/:id", cfg.RunHandler.Get)
			v1.GET("/summary", cfg.RunHandler.Summary)
		}
	}

	return r
}
