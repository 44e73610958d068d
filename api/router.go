package api

import (
	"ffedit/bridge"
	"ffedit/config"
	"ffedit/task"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(tm *task.Manager, b *bridge.Bridge, hub *SurfaceHub, prober Prober, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(tm, b, hub, prober, cfg)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/tasks", h.handleCreateTask)
		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTaskStatus)
		v1.PATCH("/tasks/:taskId/cancel", h.handleCancelTask)
		v1.GET("/tasks/:taskId/progress", h.handleTaskProgress)

		v1.POST("/probe", h.handleProbe)

		v1.GET("/surfaces/:name/events", h.handleSurfaceEvents)
		v1.POST("/surfaces/:name/replies", h.handleSurfaceReply)

		v1.POST("/project/save", h.handleSaveProject)
		v1.POST("/project/open", h.handleOpenProject)
	}
	return r
}
