package router

import (
	"Go_Drop/internal/handler"
	"Go_Drop/utils"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Objects     *handler.ObjectHandler
	JWTSecret   string
	// CORSOrigins limits browser origins; empty allows any.
	CORSOrigins []string
	// Metrics serves /metrics when set.
	Metrics     http.Handler
}

// InitRouter builds API routes.
func InitRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(utils.CORSMiddleware(deps.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := r.Group("/api")
	{
		api.GET("/start", deps.Objects.Start)

		auth := api.Group("")
		auth.Use(utils.AuthMiddleware(deps.JWTSecret))

		objects := auth.Group("/objects")
		{
			objects.POST("", deps.Objects.Upload)
			objects.GET("", deps.Objects.List)
			objects.POST("/:id/link", deps.Objects.RefreshLink)
		}
	}
	return r
}
