package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mangosqueezy/internal/server/middleware"
)

type RouterConfig struct {
	Pipelines PipelineService
	Callbacks CallbackService
	Verifier  CallbackVerifier
	JWTSecret string
	Logger    *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(cfg.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	cb := NewCallbackHandler(cfg.Verifier, cfg.Callbacks, cfg.Logger)
	r.POST("/callback", cb.Callback)

	ph := NewPipelineHandler(cfg.Pipelines)
	g := r.Group("/pipelines", middleware.JWTAuthMiddleware(cfg.JWTSecret))
	g.POST("", ph.CreatePipeline)
	g.GET("", ph.ListPipelines)
	g.GET("/:id", ph.GetPipeline)
	g.POST("/:id/start", ph.StartPipeline)
	return r
}
