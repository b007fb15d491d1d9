package app

import (
	"context"

	"github.com/gin-gonic/gin"

	apphttp "github.com/yungbote/feedback-annotator/internal/http"
	httpH "github.com/yungbote/feedback-annotator/internal/http/handlers"
	"github.com/yungbote/feedback-annotator/internal/observability"
	"github.com/yungbote/feedback-annotator/internal/platform/envutil"
)

type Handlers struct {
	Health *httpH.HealthHandler
	Run    *httpH.RunHandler
}

func (a *App) wireHandlers() Handlers {
	a.Log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(a.Clients.Backend.Name()),
		Run:    httpH.NewRunHandler(a.Log, a, a.Clients.Ledger, a.Inspector),
	}
}

// Router builds the trigger API.
func (a *App) Router() *gin.Engine {
	if envutil.String("LOG_MODE", a.Cfg.LogMode) == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := a.wireHandlers()
	return apphttp.NewRouter(apphttp.RouterConfig{
		Log:           a.Log,
		Metrics:       a.Metrics,
		ServiceName:   observability.DefaultServiceName,
		HealthHandler: h.Health,
		RunHandler:    h.Run,
	})
}

// Serve runs the trigger API on addr (or HTTP_ADDR) until ctx ends.
func (a *App) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.Cfg.HTTPAddr
	}
	srv := &apphttp.Server{Engine: a.Router()}
	a.Log.Info("HTTP trigger listening", "addr", addr)
	return srv.Run(ctx, addr, envutil.Seconds("HTTP_SHUTDOWN_GRACE_SECONDS", 30))
}
